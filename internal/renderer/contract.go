package renderer

// Wire types of the renderer sidecar. Field names follow the sidecar's JSON.

// Composition is a resolved composition.
type Composition struct {
	ID               string `json:"id"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	FPS              int    `json:"fps"`
	DurationInFrames int    `json:"durationInFrames"`
}

// RenderToFileInput describes one render.
type RenderToFileInput struct {
	Composition Composition `json:"composition"`
	ServeURL    string      `json:"serveUrl"`
	// OutputPath is a path inside the work directory shared with the sidecar.
	OutputPath string `json:"outputLocation"`
	Props      any    `json:"inputProps"`
	Format     Format `json:"format"`
}

// RenderOutput reports where the sidecar wrote the file. It may differ from
// the requested path when the sidecar normalizes it.
type RenderOutput struct {
	OutputPath string `json:"outputLocation"`
}

type bundleResponse struct {
	ServeURL string `json:"serveUrl"`
}

type selectRequest struct {
	ServeURL string `json:"serveUrl"`
	ID       string `json:"id"`
	Props    any    `json:"inputProps"`
}

type errorResponse struct {
	Error string `json:"error"`
}
