// Package server exposes the request router over HTTP.
//
// # API Endpoints
//
//   - POST   /requests               submit a request (?stream=true streams it inline)
//   - GET    /requests               list retained requests
//   - GET    /requests/{id}          request status
//   - GET    /requests/{id}/events   ordered chunks as Server-Sent Events
//   - DELETE /requests/{id}          cancel (?release=true also forgets it)
//   - GET    /providers              provider configs with health
//   - PUT    /providers              replace the provider set
//   - GET    /events                 lifecycle firehose from the event bus
//
// # Request Streams
//
// A request stream carries one "chunk" event per chunk, in sequence order,
// followed by exactly one terminal event:
//
//	event: chunk
//	data: {"seq":1,"text":"Hello","final":false,"providerID":"primary"}
//
//	event: done
//	data: {"id":"01J...","state":"completed","providerID":"primary","chunks":3,...}
//
// "cancelled" carries the status, "error" carries the typed error including
// the attempts made. Each request has a single reader; a second subscription
// is rejected with 409. Dropping the connection before the terminal event
// cancels the request.
//
// The editor state arrives in the submit body either inline (path plus
// content) or as a path read from the server's filesystem through afero.
package server
