// Package renderer is the client side of the media render engine: bundle
// preparation, composition selection and rendering to a file.
package renderer

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Format selects the encoder of a render.
type Format string

const (
	// FormatH264 renders an mp4 video.
	FormatH264 Format = "h264"
	// FormatJPEG renders a single still frame.
	FormatJPEG Format = "jpeg"
)

// Composition ids known to the bundle.
const (
	CompositionMain = "Main"
)

// Engine is the render engine as seen by the render service.
type Engine interface {
	// Bundle prepares the composition bundle and returns its serve URL.
	Bundle(ctx context.Context) (string, error)
	// SelectComposition resolves a composition with the given input props.
	SelectComposition(ctx context.Context, serveURL, id string, props any) (Composition, error)
	// RenderToFile renders in.Composition to in.OutputPath.
	RenderToFile(ctx context.Context, in RenderToFileInput) (RenderOutput, error)
}

// BundleCache computes the bundle once per process and shares it. A failed
// bundle is not cached; the next caller tries again.
type BundleCache struct {
	engine Engine

	group singleflight.Group
	mu    sync.Mutex
	url   string
}

// NewBundleCache wraps engine.
func NewBundleCache(engine Engine) *BundleCache {
	return &BundleCache{engine: engine}
}

// Get returns the cached serve URL, bundling on first use. Concurrent first
// callers share one Bundle call.
func (c *BundleCache) Get(ctx context.Context) (string, error) {
	c.mu.Lock()
	url := c.url
	c.mu.Unlock()
	if url != "" {
		return url, nil
	}

	v, err, _ := c.group.Do("bundle", func() (any, error) {
		url, err := c.engine.Bundle(ctx)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.url = url
		c.mu.Unlock()
		return url, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
