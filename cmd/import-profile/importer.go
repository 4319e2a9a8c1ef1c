package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/samuelrizzo/github-unwrapped/internal/domain"
)

type profileSaver interface {
	SaveProfile(ctx context.Context, p domain.Profile) error
}

// importFile saves the profile stored as JSON in path. Logins are folded to
// lower case to match cache lookups; a missing fetchedAt is set to now.
func importFile(ctx context.Context, s profileSaver, path string, now func() time.Time) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	var p domain.Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", fmt.Errorf("decode %s: %w", path, err)
	}

	p.Login = strings.ToLower(strings.TrimSpace(p.Login))
	if p.Login == "" {
		return "", fmt.Errorf("%s: login is required", path)
	}
	if p.FetchedAt.IsZero() {
		p.FetchedAt = now().UTC()
	}

	if err := s.SaveProfile(ctx, p); err != nil {
		return "", err
	}
	return p.Login, nil
}
