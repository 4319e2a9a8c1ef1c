package driver

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/samuelrizzo/github-unwrapped/internal/config"
	"github.com/samuelrizzo/github-unwrapped/internal/domain"
)

func TestOpenSQLite(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, config.StoreConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "unwrapped.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	rec, err := s.FindJobRecord(ctx, domain.NewJobKey("octocat", domain.VariantDark))
	if err != nil || rec != nil {
		t.Fatalf("expected empty store, got %+v, %v", rec, err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), config.StoreConfig{Driver: "mongo"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
