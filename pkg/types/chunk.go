package types

// Chunk is one ordered unit of streamed model output.
// Seq starts at 1 and is gap-free within a request; exactly one chunk per
// completed request has Final set, and it is the last one delivered.
type Chunk struct {
	Seq        int64  `json:"seq"`
	Text       string `json:"text"`
	Final      bool   `json:"final"`
	ProviderID string `json:"providerID,omitempty"`
}
