package engine

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/drummonds/vidfrompdf/config"
	"github.com/drummonds/vidfrompdf/database"
	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"
)

// ServerHandler will inject the variables needed into routes
type ServerHandler struct {
	Engine       *Engine
	DB           database.Repository // nil when persistence is disabled
	Echo         *echo.Echo
	ServerConfig config.ServerConfig
}

// RegisterRoutes adds the project and API routes to the echo instance
func (serverHandler *ServerHandler) RegisterRoutes() {
	e := serverHandler.Echo

	project := e.Group("/project", SessionMiddleware())
	project.PUT("/new", serverHandler.CreateProject)
	project.GET("/get", serverHandler.GetProject)
	project.GET("/edit/:id", serverHandler.EditProject)
	project.PUT("/page/:index", serverHandler.SetPageAudio)
	project.POST("/render", serverHandler.RenderProject)
	project.DELETE("/render", serverHandler.CancelRender)
	project.POST("/extract", serverHandler.ExtractProject)
	project.GET("/asset/:id/*", serverHandler.ServeAsset)

	e.GET("/api/health", serverHandler.Health)
	e.GET("/api/codecs", serverHandler.GetCodecs)
	e.POST("/api/codecs/renegotiate", serverHandler.RenegotiateCodecs)

	// Job tracking API routes
	e.GET("/api/jobs", serverHandler.GetRecentJobs)
	e.GET("/api/jobs/active", serverHandler.GetActiveJobs)
	e.GET("/api/jobs/:id", serverHandler.GetJob)
}

// engineError writes an engine error with the status its kind maps to
func engineError(c echo.Context, err error) error {
	status := httpStatus(err)
	kind := Kind(err)
	if status >= http.StatusInternalServerError {
		Logger.Error("Request failed", "path", c.Request().URL.Path, "kind", kind, "error", err)
	} else {
		Logger.Info("Request rejected", "path", c.Request().URL.Path, "kind", kind, "error", err)
	}
	return c.JSON(status, map[string]interface{}{
		"error": err.Error(),
		"kind":  kind,
	})
}

// readBody reads at most limit bytes of the request body
func readBody(c echo.Context, limit int64) ([]byte, error) {
	body := c.Request().Body
	if limit > 0 {
		body = http.MaxBytesReader(c.Response(), body, limit)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &UploadError{Reason: fmt.Sprintf("upload larger than %d bytes", tooLarge.Limit)}
		}
		return nil, &UploadError{Reason: "could not read upload", Err: err}
	}
	return data, nil
}

func (serverHandler *ServerHandler) uploadLimit() int64 {
	return int64(serverHandler.ServerConfig.MaxUploadMB) << 20
}

// currentProject resolves the project bound to the request's session
func (serverHandler *ServerHandler) currentProject(c echo.Context) (*Project, error) {
	return serverHandler.Engine.CurrentProject(SessionFrom(c))
}

// CreateProject creates a project from an uploaded PDF
// @Summary Create a project
// @Description Stores the PDF body, extracts its pages and binds the project to the session
// @Tags Projects
// @Accept application/pdf
// @Produce json
// @Success 201 {object} ProjectView
// @Failure 400 {object} map[string]interface{} "Unreadable upload"
// @Failure 415 {object} map[string]interface{} "Body is not a PDF"
// @Failure 422 {object} map[string]interface{} "Rasterization failed"
// @Router /project/new [put]
func (serverHandler *ServerHandler) CreateProject(c echo.Context) error {
	mediaType, _, err := mime.ParseMediaType(c.Request().Header.Get(echo.HeaderContentType))
	if err != nil || mediaType != "application/pdf" {
		return engineError(c, fmt.Errorf("%w: expected application/pdf", ErrUnsupportedMedia))
	}
	data, err := readBody(c, serverHandler.uploadLimit())
	if err != nil {
		return engineError(c, err)
	}

	project, err := serverHandler.Engine.CreateProject(c.Request().Context(), SessionFrom(c), data)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusCreated, project.View())
}

// GetProject returns the session's current project
// @Summary Current project
// @Tags Projects
// @Produce json
// @Success 200 {object} ProjectView
// @Failure 404 {object} map[string]interface{} "No project for this session"
// @Router /project/get [get]
func (serverHandler *ServerHandler) GetProject(c echo.Context) error {
	project, err := serverHandler.currentProject(c)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, project.View())
}

// EditProject opens a project by identifier and makes it the session's current one
// @Summary Open a project
// @Tags Projects
// @Produce json
// @Param id path string true "Project ID (ULID)"
// @Success 200 {object} ProjectView
// @Failure 404 {object} map[string]interface{} "Project not found"
// @Router /project/edit/{id} [get]
func (serverHandler *ServerHandler) EditProject(c echo.Context) error {
	id, err := ulid.ParseStrict(c.Param("id"))
	if err != nil {
		return engineError(c, fmt.Errorf("%w: %q", ErrProjectNotFound, c.Param("id")))
	}
	project, err := serverHandler.Engine.OpenProject(SessionFrom(c), id)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, project.View())
}

// SetPageAudio attaches the request body as narration for one page
// @Summary Attach page audio
// @Tags Projects
// @Accept audio/mpeg,audio/wav,audio/ogg
// @Produce json
// @Param index path int true "Page index (0-based)"
// @Success 200 {object} ProjectView
// @Failure 400 {object} map[string]interface{} "Unreadable audio"
// @Failure 404 {object} map[string]interface{} "No such page"
// @Failure 409 {object} map[string]interface{} "Project cannot take audio now"
// @Router /project/page/{index} [put]
func (serverHandler *ServerHandler) SetPageAudio(c echo.Context) error {
	project, err := serverHandler.currentProject(c)
	if err != nil {
		return engineError(c, err)
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return engineError(c, fmt.Errorf("%w: %q", ErrPageNotFound, c.Param("index")))
	}
	data, err := readBody(c, serverHandler.uploadLimit())
	if err != nil {
		return engineError(c, err)
	}

	updated, err := serverHandler.Engine.SetPageAudio(c.Request().Context(), project.ID, index,
		c.Request().Header.Get(echo.HeaderContentType), bytes.NewReader(data))
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, updated.View())
}

// RenderProject renders the session's project and waits for the result
// @Summary Render the video
// @Tags Projects
// @Produce json
// @Success 200 {object} ProjectView
// @Failure 409 {object} map[string]interface{} "Already rendering or nothing to render"
// @Failure 500 {object} map[string]interface{} "Every codec profile failed"
// @Router /project/render [post]
func (serverHandler *ServerHandler) RenderProject(c echo.Context) error {
	project, err := serverHandler.currentProject(c)
	if err != nil {
		return engineError(c, err)
	}
	rendered, err := serverHandler.Engine.Render(c.Request().Context(), project.ID)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, rendered.View())
}

// CancelRender stops the render running for the session's project
// @Summary Cancel rendering
// @Tags Projects
// @Produce json
// @Success 202 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{} "Nothing is rendering"
// @Router /project/render [delete]
func (serverHandler *ServerHandler) CancelRender(c echo.Context) error {
	project, err := serverHandler.currentProject(c)
	if err != nil {
		return engineError(c, err)
	}
	if err := serverHandler.Engine.CancelRender(project.ID); err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"identifier": project.ID.String(),
		"status":     "cancelling",
	})
}

// ExtractProject retries page extraction for the session's project
// @Summary Re-extract pages
// @Tags Projects
// @Produce json
// @Success 200 {object} ProjectView
// @Failure 409 {object} map[string]interface{} "Extraction not allowed now"
// @Failure 422 {object} map[string]interface{} "Rasterization failed"
// @Router /project/extract [post]
func (serverHandler *ServerHandler) ExtractProject(c echo.Context) error {
	project, err := serverHandler.currentProject(c)
	if err != nil {
		return engineError(c, err)
	}
	extracted, err := serverHandler.Engine.Extract(c.Request().Context(), project.ID)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, extracted.View())
}

// ServeAsset serves a file from a project directory: page images, audio
// clips and rendered videos.
func (serverHandler *ServerHandler) ServeAsset(c echo.Context) error {
	id, err := ulid.ParseStrict(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound)
	}
	project, err := serverHandler.Engine.Project(id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound)
	}

	rel, ok := cleanAssetPath(c.Param("*"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound)
	}
	full := project.Path(rel)
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return echo.NewHTTPError(http.StatusNotFound)
	}
	return c.File(full)
}

// cleanAssetPath rejects paths that would leave the project directory
func cleanAssetPath(raw string) (string, bool) {
	if raw == "" || strings.Contains(raw, "\\") {
		return "", false
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+raw), "/")
	if cleaned == "" || cleaned == "." || filepath.IsAbs(cleaned) {
		return "", false
	}
	return cleaned, true
}

// Health reports liveness and the selected backends
// @Summary Health check
// @Tags System
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/health [get]
func (serverHandler *ServerHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"rasterBackend": serverHandler.Engine.Backend(),
		"ffmpegVersion": serverHandler.Engine.tools.Version,
		"persistence":   serverHandler.DB != nil,
	})
}

// GetCodecs lists the negotiated codec profiles in rank order
// @Summary Codec profiles
// @Tags System
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/codecs [get]
func (serverHandler *ServerHandler) GetCodecs(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"profiles":     serverHandler.Engine.Profiles(),
		"negotiatedAt": serverHandler.Engine.negotiator.NegotiatedAt(),
	})
}

// RenegotiateCodecs probes the encoders again
// @Summary Re-probe encoders
// @Tags System
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/codecs/renegotiate [post]
func (serverHandler *ServerHandler) RenegotiateCodecs(c echo.Context) error {
	profiles := serverHandler.Engine.Renegotiate(c.Request().Context())
	return c.JSON(http.StatusOK, map[string]interface{}{
		"profiles":     profiles,
		"negotiatedAt": serverHandler.Engine.negotiator.NegotiatedAt(),
	})
}
