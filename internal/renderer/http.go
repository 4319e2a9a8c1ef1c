package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPEngine talks JSON to the renderer sidecar.
type HTTPEngine struct {
	baseURL string
	client  *http.Client
}

// NewHTTPEngine creates an engine for baseURL. Deadlines come from the
// caller's context, so the client itself has no timeout.
func NewHTTPEngine(baseURL string, client *http.Client) *HTTPEngine {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPEngine{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (e *HTTPEngine) Bundle(ctx context.Context) (string, error) {
	var out bundleResponse
	if err := e.post(ctx, "/bundle", struct{}{}, &out); err != nil {
		return "", err
	}
	if out.ServeURL == "" {
		return "", fmt.Errorf("renderer: bundle returned no serve url")
	}
	return out.ServeURL, nil
}

func (e *HTTPEngine) SelectComposition(ctx context.Context, serveURL, id string, props any) (Composition, error) {
	var out Composition
	err := e.post(ctx, "/compositions/select", selectRequest{ServeURL: serveURL, ID: id, Props: props}, &out)
	return out, err
}

func (e *HTTPEngine) RenderToFile(ctx context.Context, in RenderToFileInput) (RenderOutput, error) {
	var out RenderOutput
	if err := e.post(ctx, "/render", in, &out); err != nil {
		return RenderOutput{}, err
	}
	if out.OutputPath == "" {
		out.OutputPath = in.OutputPath
	}
	return out, nil
}

// Ping checks that the sidecar answers.
func (e *HTTPEngine) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	res, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("renderer http %d", res.StatusCode)
	}
	return nil
}

func (e *HTTPEngine) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		var er errorResponse
		if json.Unmarshal(raw, &er) == nil && er.Error != "" {
			return fmt.Errorf("renderer http %d: %s", res.StatusCode, er.Error)
		}
		return fmt.Errorf("renderer http %d", res.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("renderer: decode %s response: %w", path, err)
	}
	return nil
}
