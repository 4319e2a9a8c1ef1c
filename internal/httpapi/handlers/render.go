package handlers

import (
	"net/http"

	"github.com/samuelrizzo/github-unwrapped/internal/httpkit"
	"github.com/samuelrizzo/github-unwrapped/internal/render"
)

// PostRender handles POST /api/render. Malformed bodies and invalid fields
// return 400; every other outcome is a 200 with a RenderResponse.
func (h *Handler) PostRender(w http.ResponseWriter, r *http.Request) error {
	var req render.RenderRequest
	if err := httpkit.DecodeJSON(w, r, &req); err != nil {
		return err
	}

	resp, err := h.render.RequestRender(r.Context(), req)
	if err != nil {
		return err
	}

	httpkit.WriteJSON(w, http.StatusOK, resp)
	return nil
}
