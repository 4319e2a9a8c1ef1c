package handlers

import (
	"net/http"
	"strconv"

	"github.com/samuelrizzo/github-unwrapped/internal/github"
	"github.com/samuelrizzo/github-unwrapped/internal/httpkit"
	apperrors "github.com/samuelrizzo/github-unwrapped/internal/pkg/errors"
)

// SignInLink handles GET /api/sign-in-link?reset=<bool>.
func (h *Handler) SignInLink(w http.ResponseWriter, r *http.Request) error {
	reset, _ := strconv.ParseBool(r.URL.Query().Get("reset"))

	link, ok := github.SignInLink(h.host, h.clientID, reset)
	if !ok {
		return apperrors.New(apperrors.CodeNotFound, "sign in with GitHub is not configured")
	}

	httpkit.WriteJSON(w, http.StatusOK, map[string]string{"url": link})
	return nil
}
