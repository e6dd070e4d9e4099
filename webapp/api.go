package webapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/maxence-charriere/go-app/v10/pkg/app"
)

// GetAPIBaseURL returns the configured API base URL
// It reads from window.vidfrompdfConfig.apiURL if available,
// otherwise falls back to empty string (relative URLs)
func GetAPIBaseURL() string {
	if !app.IsClient {
		return "" // Server-side rendering - use relative URLs
	}

	config := app.Window().Get("vidfrompdfConfig")
	if config.Truthy() {
		apiURL := config.Get("apiURL")
		if apiURL.Truthy() {
			return strings.TrimSuffix(apiURL.String(), "/")
		}
	}

	// Fallback to relative URLs (same origin)
	return ""
}

// BuildAPIURL constructs a full API URL from a path
// Example: BuildAPIURL("/project/get") -> "http://backend:8000/project/get"
// or just "/project/get" if using relative URLs
func BuildAPIURL(path string) string {
	baseURL := GetAPIBaseURL()
	if baseURL == "" {
		return path
	}
	return baseURL + path
}

// Job represents a background job
type Job struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	Progress    int    `json:"progress"`
	CurrentStep string `json:"currentStep"`
	TotalSteps  int    `json:"totalSteps"`
	Message     string `json:"message"`
	Error       string `json:"error,omitempty"`
	Result      string `json:"result,omitempty"`
	ProjectID   string `json:"projectId,omitempty"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
	StartedAt   string `json:"startedAt,omitempty"`
	CompletedAt string `json:"completedAt,omitempty"`
}

// Page is one slide as returned by the project routes
type Page struct {
	ImgURL   string  `json:"img_url"`
	AudioURL *string `json:"audio_url"`
}

// Project is the document every /project route returns
type Project struct {
	Identifier string  `json:"identifier"`
	Pages      []Page  `json:"pages"`
	Output     *string `json:"output"`
}

// HasAudio reports whether page i has narration
func (p Project) HasAudio(i int) bool {
	return i >= 0 && i < len(p.Pages) && p.Pages[i].AudioURL != nil
}

// ErrInvalidProject is returned when a response does not have the project shape
var ErrInvalidProject = errors.New("invalid project document")

// DecodeProject parses and validates a project document. Unknown fields are
// ignored; identifier and pages are required and every page needs an image.
func DecodeProject(data []byte) (Project, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Project{}, fmt.Errorf("%w: %v", ErrInvalidProject, err)
	}
	for _, field := range []string{"identifier", "pages"} {
		if value, ok := raw[field]; !ok || string(value) == "null" {
			return Project{}, fmt.Errorf("%w: missing %q", ErrInvalidProject, field)
		}
	}

	var project Project
	if err := json.Unmarshal(data, &project); err != nil {
		return Project{}, fmt.Errorf("%w: %v", ErrInvalidProject, err)
	}
	if project.Identifier == "" {
		return Project{}, fmt.Errorf("%w: empty identifier", ErrInvalidProject)
	}
	for i, page := range project.Pages {
		if page.ImgURL == "" {
			return Project{}, fmt.Errorf("%w: page %d has no img_url", ErrInvalidProject, i)
		}
	}
	return project, nil
}

// APIError is the error document returned by the backend
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	Kind    string `json:"kind"`
}

func (e *APIError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("request failed (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// DecodeAPIError turns an error response into an APIError, keeping the raw
// body as the message when it is not JSON
func DecodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

// Describe gives the message shown to the user for an error kind
func (e *APIError) Describe() string {
	switch e.Kind {
	case "AlreadyRendering":
		return "A render is already running for this project."
	case "InvalidState":
		return "The project cannot do that right now: " + e.Message
	case "RasterizationError":
		return "The PDF could not be turned into images: " + e.Message
	case "UploadError":
		return "The upload was rejected: " + e.Message
	case "RenderError":
		return "Every video encoder failed: " + e.Message
	case "Canceled":
		return "The render was cancelled."
	case "NotFound":
		return "Not found: " + e.Message
	}
	return e.Error()
}

// fetchBytes runs window.fetch and hands the status and body text to done on
// the UI goroutine. Cookies are always sent so the session survives.
func fetchBytes(ctx app.Context, method, path string, contentType string, body app.Value, done func(ctx app.Context, status int, data []byte, err error)) {
	if !app.IsClient {
		return // server-side prerendering has no fetch
	}
	ctx.Async(func() {
		opts := map[string]interface{}{
			"method":      method,
			"credentials": "include",
		}
		if contentType != "" {
			opts["headers"] = map[string]interface{}{"Content-Type": contentType}
		}
		if body != nil && body.Truthy() {
			opts["body"] = body
		}

		res := app.Window().Call("fetch", BuildAPIURL(path), opts)
		res.Call("then", app.FuncOf(func(this app.Value, args []app.Value) interface{} {
			if len(args) == 0 {
				return nil
			}
			response := args[0]
			status := response.Get("status").Int()

			response.Call("text").Call("then", app.FuncOf(func(this app.Value, args []app.Value) interface{} {
				text := ""
				if len(args) > 0 {
					text = args[0].String()
				}
				ctx.Dispatch(func(ctx app.Context) {
					done(ctx, status, []byte(text), nil)
				})
				return nil
			}))
			return nil
		})).Call("catch", app.FuncOf(func(this app.Value, args []app.Value) interface{} {
			ctx.Dispatch(func(ctx app.Context) {
				done(ctx, 0, nil, errors.New("network error: could not connect to server"))
			})
			return nil
		}))
	})
}
