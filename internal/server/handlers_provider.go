package server

import (
	"encoding/json"
	"net/http"

	"github.com/opencode-ai/assistcore/internal/config"
	"github.com/opencode-ai/assistcore/pkg/types"
)

// UpdateProvidersRequest is the body of PUT /providers.
type UpdateProvidersRequest struct {
	Providers []types.ProviderConfig `json:"providers"`
}

// listProviders handles GET /providers.
func (s *Server) listProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.providers.Statuses())
}

// updateProviders handles PUT /providers. The set is validated as a whole
// before anything changes; providers whose adapter cannot be built are
// reported and left out.
func (s *Server) updateProviders(w http.ResponseWriter, r *http.Request) {
	var req UpdateProvidersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body: "+err.Error())
		return
	}
	if err := config.Validate(&types.Config{Providers: req.Providers}); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	if err := s.providers.Update(r.Context(), req.Providers); err != nil {
		writeErrorWithDetails(w, http.StatusUnprocessableEntity, ErrCodeProviderError, err.Error(), map[string]any{
			"providers": s.providers.Statuses(),
		})
		return
	}
	writeJSON(w, http.StatusOK, s.providers.Statuses())
}
