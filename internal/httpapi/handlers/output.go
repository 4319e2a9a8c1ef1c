package handlers

import (
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/samuelrizzo/github-unwrapped/internal/pkg/errors"
	"github.com/samuelrizzo/github-unwrapped/internal/ports"
)

// StreamOutput handles GET /output/*, serving published videos and images.
func (h *Handler) StreamOutput(w http.ResponseWriter, r *http.Request) error {
	key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if key == "" {
		return apperrors.NotFound("output", key)
	}

	rc, ct, size, err := h.sp.GetObject(r.Context(), key)
	if errors.Is(err, ports.ErrObjectNotFound) {
		return apperrors.NotFound("output", key)
	}
	if err != nil {
		return apperrors.WrapWithCode(err, apperrors.CodeUnavailable, "httpapi.output", "storage unavailable")
	}
	defer rc.Close()

	if ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")

	// Seekable sources get range support, which video players rely on.
	if rs, ok := rc.(io.ReadSeeker); ok {
		http.ServeContent(w, r, path.Base(key), time.Time{}, rs)
		return nil
	}

	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
	return nil
}
