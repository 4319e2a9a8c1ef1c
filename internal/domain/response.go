package domain

// ResponseType tags a RenderResponse.
type ResponseType string

const (
	ResponseVideoAvailable ResponseType = "video-available"
	ResponseRenderError    ResponseType = "render-error"
	ResponseRenderRunning  ResponseType = "render-running"
)

// ProgressRunning is the estimate reported for a job already in flight.
const ProgressRunning = 0.5

// RenderResponse is what a client sees for a render request. Exactly one of
// URL, Error or Progress is set, matching Type.
type RenderResponse struct {
	Type     ResponseType `json:"type"`
	URL      string       `json:"url,omitempty"`
	Error    string       `json:"error,omitempty"`
	Progress *float64     `json:"progress,omitempty"`
}

// VideoAvailable reports a finished render.
func VideoAvailable(url string) RenderResponse {
	return RenderResponse{Type: ResponseVideoAvailable, URL: url}
}

// RenderError reports a failed or impossible render.
func RenderError(message string) RenderResponse {
	return RenderResponse{Type: ResponseRenderError, Error: message}
}

// RenderRunning reports a render in progress.
func RenderRunning(progress float64) RenderResponse {
	return RenderResponse{Type: ResponseRenderRunning, Progress: &progress}
}

// FromFinality maps a terminal record to its response.
func FromFinality(f *Finality) RenderResponse {
	if f.Type == FinalitySuccess {
		return VideoAvailable(f.URL)
	}
	return RenderError(f.Message)
}
