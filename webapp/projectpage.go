package webapp

import (
	"fmt"
	"net/http"

	"github.com/maxence-charriere/go-app/v10/pkg/app"
)

// ProjectPage uploads a deck, attaches narration per slide and renders the video
type ProjectPage struct {
	app.Compo
	project   *Project
	loading   bool
	uploading bool
	rendering bool
	busyPage  int // page whose audio is uploading, -1 when none
	message   string
	error     string
}

// OnMount is called when the component is mounted
func (p *ProjectPage) OnMount(ctx app.Context) {
	p.busyPage = -1
	p.loading = true
	fetchBytes(ctx, http.MethodGet, "/project/get", "", nil, p.onProject)
}

// Render renders the project page
func (p *ProjectPage) Render() app.UI {
	return app.Div().
		Class("project-page").
		Body(
			app.H2().Text("Slides to video"),
			app.P().Text("Upload a PDF deck, add a narration clip to any slide and render the video. Slides without narration are shown in silence."),

			app.Div().Class("project-controls").Body(
				app.Label().Class("btn-primary upload-label").Body(
					app.Text(p.uploadLabel()),
					app.Input().
						Type("file").
						Accept("application/pdf").
						Class("hidden-input").
						Disabled(p.uploading || p.rendering).
						OnChange(p.onPDFChosen),
				),
				app.If(p.project != nil && len(p.project.Pages) > 0, func() app.UI {
					return app.Button().
						Class("btn-primary").
						Disabled(p.rendering || p.uploading).
						OnClick(p.onRenderClick).
						Body(app.Text(p.renderLabel()))
				}),
				app.If(p.rendering, func() app.UI {
					return app.Button().
						Class("btn-secondary").
						OnClick(p.onCancelClick).
						Body(app.Text("Cancel"))
				}),
			),

			p.renderStatus(),
			p.renderOutput(),
			p.renderPages(),
		)
}

func (p *ProjectPage) uploadLabel() string {
	if p.uploading {
		return "Extracting pages..."
	}
	if p.project != nil {
		return "Upload another PDF"
	}
	return "Upload PDF"
}

func (p *ProjectPage) renderLabel() string {
	if p.rendering {
		return "Rendering..."
	}
	if p.project != nil && p.project.Output != nil {
		return "Render again"
	}
	return "Render video"
}

// renderStatus renders loading, error and info messages
func (p *ProjectPage) renderStatus() app.UI {
	switch {
	case p.loading:
		return app.Div().Class("loading").Body(app.Text("Loading project..."))
	case p.error != "":
		return app.Div().Class("error").Body(app.Text(p.error))
	case p.message != "":
		return app.Div().Class("success").Body(app.Text(p.message))
	case p.project == nil:
		return app.Div().Class("info").Body(app.P().Text("No project yet. Upload a PDF to start."))
	}
	return app.Div()
}

func (p *ProjectPage) renderOutput() app.UI {
	if p.project == nil || p.project.Output == nil {
		return app.Div()
	}
	url := BuildAPIURL(*p.project.Output)
	return app.Div().Class("project-output").Body(
		app.H3().Text("Rendered video"),
		app.Video().Controls(true).Src(url).Class("output-video"),
		app.A().Href(url).Attr("download", "").Class("download-link").Text("Download video"),
	)
}

func (p *ProjectPage) renderPages() app.UI {
	if p.project == nil {
		return app.Div()
	}
	items := make([]app.UI, 0, len(p.project.Pages))
	for i := range p.project.Pages {
		items = append(items, p.renderPage(i))
	}
	return app.Div().Class("page-grid").Body(items...)
}

// renderPage renders one slide card with its narration controls
func (p *ProjectPage) renderPage(i int) app.UI {
	page := p.project.Pages[i]
	return app.Div().Class("page-card").Body(
		app.Img().Src(BuildAPIURL(page.ImgURL)).Alt(fmt.Sprintf("Slide %d", i+1)).Class("page-image"),
		app.Div().Class("page-footer").Body(
			app.Strong().Text(fmt.Sprintf("Slide %d", i+1)),
			app.If(page.AudioURL != nil, func() app.UI {
				return app.Audio().Controls(true).Src(BuildAPIURL(*page.AudioURL)).Class("page-audio")
			}).Else(func() app.UI {
				return app.Span().Class("page-silent").Text("silent")
			}),
			app.Label().Class("btn-small upload-label").Body(
				app.Text(p.audioLabel(i)),
				app.Input().
					Type("file").
					Accept("audio/*").
					Class("hidden-input").
					Disabled(p.busyPage >= 0 || p.rendering).
					OnChange(func(ctx app.Context, e app.Event) { p.onAudioChosen(ctx, i) }),
			),
		),
	)
}

func (p *ProjectPage) audioLabel(i int) string {
	switch {
	case p.busyPage == i:
		return "Uploading..."
	case p.project.HasAudio(i):
		return "Replace narration"
	}
	return "Add narration"
}

func chosenFile(ctx app.Context) app.Value {
	files := ctx.JSSrc().Get("files")
	if !files.Truthy() || files.Length() == 0 {
		return nil
	}
	return files.Index(0)
}

// onPDFChosen uploads the chosen deck as a new project
func (p *ProjectPage) onPDFChosen(ctx app.Context, e app.Event) {
	file := chosenFile(ctx)
	if file == nil {
		return
	}
	p.uploading = true
	p.error = ""
	p.message = ""
	fetchBytes(ctx, http.MethodPut, "/project/new", "application/pdf", file, func(ctx app.Context, status int, data []byte, err error) {
		p.uploading = false
		p.onProject(ctx, status, data, err)
		if p.error == "" && p.project != nil {
			p.message = fmt.Sprintf("Extracted %d slides.", len(p.project.Pages))
		}
	})
}

// onAudioChosen uploads narration for page i
func (p *ProjectPage) onAudioChosen(ctx app.Context, i int) {
	file := chosenFile(ctx)
	if file == nil {
		return
	}
	contentType := file.Get("type").String()
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	p.busyPage = i
	p.error = ""
	p.message = ""
	fetchBytes(ctx, http.MethodPut, fmt.Sprintf("/project/page/%d", i), contentType, file, func(ctx app.Context, status int, data []byte, err error) {
		p.busyPage = -1
		p.onProject(ctx, status, data, err)
	})
}

func (p *ProjectPage) onRenderClick(ctx app.Context, e app.Event) {
	p.rendering = true
	p.error = ""
	p.message = "Rendering, this can take a while for long decks."
	fetchBytes(ctx, http.MethodPost, "/project/render", "", nil, func(ctx app.Context, status int, data []byte, err error) {
		p.rendering = false
		p.message = ""
		p.onProject(ctx, status, data, err)
		if p.error == "" {
			p.message = "Video rendered."
		}
	})
}

func (p *ProjectPage) onCancelClick(ctx app.Context, e app.Event) {
	fetchBytes(ctx, http.MethodDelete, "/project/render", "", nil, func(ctx app.Context, status int, data []byte, err error) {
		if err != nil {
			p.error = err.Error()
			return
		}
		if status != http.StatusAccepted {
			p.error = DecodeAPIError(status, data).Describe()
		}
	})
}

// onProject applies a project response, or records why there is none
func (p *ProjectPage) onProject(ctx app.Context, status int, data []byte, err error) {
	p.loading = false
	switch {
	case err != nil:
		p.error = err.Error()
	case status == http.StatusNotFound && p.project == nil:
		// fresh session
	case status < 200 || status >= 300:
		p.error = DecodeAPIError(status, data).Describe()
		// a failed extraction still leaves the new project in place
		if status == http.StatusUnprocessableEntity {
			fetchBytes(ctx, http.MethodGet, "/project/get", "", nil, p.refresh)
		}
	default:
		project, err := DecodeProject(data)
		if err != nil {
			p.error = err.Error()
			return
		}
		p.project = &project
	}
}

// refresh replaces the project without touching the current messages
func (p *ProjectPage) refresh(ctx app.Context, status int, data []byte, err error) {
	if err != nil || status != http.StatusOK {
		return
	}
	if project, err := DecodeProject(data); err == nil {
		p.project = &project
	}
}
