package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opencode-ai/assistcore/internal/aggregator"
	"github.com/opencode-ai/assistcore/internal/router"
	"github.com/opencode-ai/assistcore/internal/snapshot"
	"github.com/opencode-ai/assistcore/pkg/types"
)

// SubmitRequest is the body of POST /requests.
type SubmitRequest struct {
	Intent            types.Intent          `json:"intent"`
	Editor            EditorState           `json:"editor"`
	Snapshot          *types.SnapshotConfig `json:"snapshot,omitempty"`
	InterChunkTimeout types.Duration        `json:"interChunkTimeout,omitempty"`
	RequestTimeout    types.Duration        `json:"requestTimeout,omitempty"`
	Temperature       *float64              `json:"temperature,omitempty"`
}

// EditorState describes the caller's editor. When Content is set it is used
// as the active document; otherwise ActiveFile is read from disk.
type EditorState struct {
	WorkspaceRoot string  `json:"workspaceRoot,omitempty"`
	ActiveFile    string  `json:"activeFile,omitempty"`
	Content       *string `json:"content,omitempty"`
	Selection     string  `json:"selection,omitempty"`
	Terminal      string  `json:"terminal,omitempty"`
}

// editor returns the snapshot.Editor for this state.
func (s *Server) editor(st EditorState) snapshot.Editor {
	root := st.WorkspaceRoot
	if root == "" {
		root = s.config.Directory
	}
	if st.Content != nil {
		return snapshot.StaticEditor{
			Doc:      &snapshot.Document{Path: st.ActiveFile, Content: *st.Content},
			Selected: st.Selection,
			Root:     root,
			Terminal: st.Terminal,
		}
	}
	return snapshot.NewFSEditor(s.fs, root,
		snapshot.WithActiveFile(st.ActiveFile),
		snapshot.WithSelection(st.Selection),
		snapshot.WithTerminalOutput(st.Terminal),
	)
}

// snapshotOptions applies per-request overrides to the server defaults.
func (s *Server) snapshotOptions(o *types.SnapshotConfig) snapshot.Options {
	opts := s.snapshot
	opts.ExcludePatterns = append([]string(nil), s.snapshot.ExcludePatterns...)
	if o == nil {
		return opts
	}
	if o.MaxBytes > 0 {
		opts.MaxBytes = o.MaxBytes
	}
	if o.IncludeSelection != nil {
		opts.IncludeSelection = *o.IncludeSelection
	}
	if o.IncludeWorkspaceRoot != nil {
		opts.IncludeWorkspaceRoot = *o.IncludeWorkspaceRoot
	}
	opts.IncludeTerminal = opts.IncludeTerminal || o.IncludeTerminal
	opts.RequireActiveDocument = opts.RequireActiveDocument || o.RequireActiveDocument
	opts.ExcludePatterns = append(opts.ExcludePatterns, o.ExcludePatterns...)
	return opts
}

// submitRequest handles POST /requests. With ?stream=true or an
// event-stream Accept header the response is the request's SSE stream;
// otherwise it is 202 with the request status.
func (s *Server) submitRequest(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body: "+err.Error())
		return
	}
	switch req.Intent.Kind {
	case "":
		req.Intent.Kind = types.IntentChat
	case types.IntentChat, types.IntentCompletion:
	default:
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "unknown intent kind "+string(req.Intent.Kind))
		return
	}

	snap, err := snapshot.NewBuilder(s.editor(req.Editor)).Build(r.Context(), s.snapshotOptions(req.Snapshot))
	if err != nil {
		writeTypedError(w, err)
		return
	}

	reqOpts := []router.RequestOption{
		router.WithInterChunkTimeout(req.InterChunkTimeout.Std()),
		router.WithRequestTimeout(req.RequestTimeout.Std()),
	}
	if req.Temperature != nil {
		reqOpts = append(reqOpts, router.WithTemperature(*req.Temperature))
	}

	h, err := s.requests.SubmitSnapshot(r.Context(), req.Intent, snap, reqOpts...)
	if errors.Is(err, router.ErrClosed) {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	if r.URL.Query().Get("stream") == "true" || r.Header.Get("Accept") == "text/event-stream" {
		s.streamRequest(w, r, h.ID)
		return
	}
	writeJSON(w, http.StatusAccepted, h.Status())
}

// listRequests handles GET /requests.
func (s *Server) listRequests(w http.ResponseWriter, r *http.Request) {
	statuses := s.requests.Requests()
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].CreatedAt.Before(statuses[j].CreatedAt)
	})
	writeJSON(w, http.StatusOK, statuses)
}

// getRequest handles GET /requests/{requestID}.
func (s *Server) getRequest(w http.ResponseWriter, r *http.Request) {
	h, ok := s.requests.Get(chi.URLParam(r, "requestID"))
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, router.ErrNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.Status())
}

// cancelRequest handles DELETE /requests/{requestID}. ?release=true also
// forgets the request.
func (s *Server) cancelRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "requestID")
	h, ok := s.requests.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, router.ErrNotFound.Error())
		return
	}

	if r.URL.Query().Get("release") == "true" {
		if err := s.requests.Release(id); err != nil {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
			return
		}
		writeSuccess(w)
		return
	}

	if err := s.requests.Cancel(id); err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.Status())
}

// requestEvents handles GET /requests/{requestID}/events.
func (s *Server) requestEvents(w http.ResponseWriter, r *http.Request) {
	s.streamRequest(w, r, chi.URLParam(r, "requestID"))
}

type streamItem struct {
	chunk types.Chunk
	err   error
}

// streamRequest writes a request's chunks as SSE events. It emits one
// "chunk" event per chunk and ends with exactly one of "done", "cancelled"
// or "error". A client that disconnects before the end cancels the request.
func (s *Server) streamRequest(w http.ResponseWriter, r *http.Request, id string) {
	stream, err := s.requests.Subscribe(id)
	switch {
	case errors.Is(err, router.ErrNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	case errors.Is(err, aggregator.ErrAlreadySubscribed):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	h, ok := s.requests.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, router.ErrNotFound.Error())
		return
	}

	sse, err := startSSE(w)
	if err != nil {
		s.requests.Cancel(id)
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	ctx := r.Context()
	items := make(chan streamItem)
	go func() {
		for {
			c, err := stream.Next(ctx)
			select {
			case items <- streamItem{chunk: c, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if !h.State().Terminal() {
				s.log.Debug().Str("request", id).Msg("client went away, cancelling request")
				s.requests.Cancel(id)
			}
			return

		case <-ticker.C:
			if err := sse.writeHeartbeat(); err != nil {
				s.requests.Cancel(id)
				return
			}

		case it := <-items:
			switch {
			case it.err == nil:
				if err := sse.writeEvent("chunk", it.chunk); err != nil {
					s.requests.Cancel(id)
					return
				}
			case errors.Is(it.err, io.EOF):
				sse.writeEvent("done", finalStatus(ctx, h))
				return
			case errors.Is(it.err, aggregator.ErrCancelled):
				sse.writeEvent("cancelled", finalStatus(ctx, h))
				return
			case errors.Is(it.err, context.Canceled):
				// client gone; handled by ctx.Done
			default:
				var typed *types.Error
				if !errors.As(it.err, &typed) {
					typed = &types.Error{Message: it.err.Error()}
				}
				sse.writeEvent("error", typed)
				return
			}
		}
	}
}

// finalStatus waits for the handle to settle so the reported state is
// terminal.
func finalStatus(ctx context.Context, h *router.Handle) router.Status {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	h.Wait(ctx)
	return h.Status()
}
