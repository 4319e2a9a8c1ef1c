// Package storage selects the artifact storage backend from configuration.
package storage

import "github.com/samuelrizzo/github-unwrapped/internal/ports"

// Provider is the storage contract used by the render worker and the output
// route. It is an alias to ports.StorageProvider to keep call-sites simple.
type Provider = ports.StorageProvider
