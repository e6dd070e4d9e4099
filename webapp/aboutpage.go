package webapp

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/maxence-charriere/go-app/v10/pkg/app"
)

// HealthInfo represents the health document from the API
type HealthInfo struct {
	Status        string `json:"status"`
	RasterBackend string `json:"rasterBackend"`
	FFmpegVersion string `json:"ffmpegVersion"`
	Persistence   bool   `json:"persistence"`
}

// CodecProfile is one negotiated encoder
type CodecProfile struct {
	Name      string `json:"name"`
	Encoder   string `json:"encoder"`
	Rank      int    `json:"rank"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// CodecInfo is the /api/codecs document
type CodecInfo struct {
	Profiles     []CodecProfile `json:"profiles"`
	NegotiatedAt string         `json:"negotiatedAt"`
}

// AboutPage shows the backends the server selected at startup
type AboutPage struct {
	app.Compo
	health        HealthInfo
	codecs        CodecInfo
	loading       bool
	renegotiating bool
	error         string
}

// OnMount is called when the component is mounted
func (a *AboutPage) OnMount(ctx app.Context) {
	a.loading = true
	fetchBytes(ctx, http.MethodGet, "/api/health", "", nil, func(ctx app.Context, status int, data []byte, err error) {
		if err != nil {
			a.error = err.Error()
			a.loading = false
			return
		}
		if err := json.Unmarshal(data, &a.health); err != nil {
			a.error = fmt.Sprintf("Failed to parse response: %v", err)
		}
		fetchBytes(ctx, http.MethodGet, "/api/codecs", "", nil, a.onCodecs)
	})
}

func (a *AboutPage) onCodecs(ctx app.Context, status int, data []byte, err error) {
	a.loading = false
	a.renegotiating = false
	if err != nil {
		a.error = err.Error()
		return
	}
	if status != http.StatusOK {
		a.error = DecodeAPIError(status, data).Describe()
		return
	}
	if err := json.Unmarshal(data, &a.codecs); err != nil {
		a.error = fmt.Sprintf("Failed to parse response: %v", err)
	}
}

func (a *AboutPage) onRenegotiateClick(ctx app.Context, e app.Event) {
	a.renegotiating = true
	fetchBytes(ctx, http.MethodPost, "/api/codecs/renegotiate", "", nil, a.onCodecs)
}

// Render renders the about page
func (a *AboutPage) Render() app.UI {
	if a.loading {
		return app.Div().Class("about-page").Body(
			app.H2().Text("About vidfrompdf"),
			app.Div().Class("loading").Body(app.Text("Loading...")),
		)
	}

	if a.error != "" {
		return app.Div().Class("about-page").Body(
			app.H2().Text("About vidfrompdf"),
			app.Div().Class("error").Body(app.Text("Error: "+a.error)),
		)
	}

	return app.Div().Class("about-page").Body(
		app.H2().Text("About vidfrompdf"),
		app.Div().Class("about-content").Body(
			app.Div().Class("about-section").Body(
				app.H3().Text("Server"),
				app.Div().Class("info-grid").Body(
					a.renderInfoItem("Version", Version),
					a.renderInfoItem("Rasterizer", a.health.RasterBackend),
					a.renderInfoItem("ffmpeg", a.health.FFmpegVersion),
					a.renderInfoItem("Job history", a.persistenceDisplay()),
				),
			),
			app.Div().Class("about-section").Body(
				app.H3().Text("Video encoders"),
				app.Table().Class("codec-table").Body(
					app.THead().Body(app.Tr().Body(
						app.Th().Text("Rank"),
						app.Th().Text("Profile"),
						app.Th().Text("Encoder"),
						app.Th().Text("Status"),
					)),
					app.TBody().Body(a.renderProfiles()...),
				),
				app.P().Class("negotiated-at").Text("Probed: "+a.codecs.NegotiatedAt),
				app.Button().
					Class("btn-primary").
					Disabled(a.renegotiating).
					OnClick(a.onRenegotiateClick).
					Body(app.Text("Probe encoders again")),
			),
			app.Div().Class("about-section").Body(
				app.H3().Text("About vidfrompdf"),
				app.P().Text("vidfrompdf turns a PDF slide deck and one narration clip per slide into a video with a chapter per slide."),
			),
		),
	)
}

func (a *AboutPage) renderProfiles() []app.UI {
	rows := make([]app.UI, 0, len(a.codecs.Profiles))
	for _, p := range a.codecs.Profiles {
		rows = append(rows, app.Tr().Class("codec-"+profileStatusClass(p)).Body(
			app.Td().Text(fmt.Sprintf("%d", p.Rank)),
			app.Td().Text(p.Name),
			app.Td().Text(p.Encoder),
			app.Td().Text(profileStatus(p)),
		))
	}
	return rows
}

// renderInfoItem creates an info item display
func (a *AboutPage) renderInfoItem(label, value string) app.UI {
	return app.Div().Class("info-item").Body(
		app.Div().Class("info-label").Body(app.Text(label)),
		app.Div().Class("info-value").Body(app.Text(value)),
	)
}

func (a *AboutPage) persistenceDisplay() string {
	if a.health.Persistence {
		return "Enabled"
	}
	return "Disabled"
}

func profileStatus(p CodecProfile) string {
	if p.Available {
		return "available"
	}
	if p.Reason != "" {
		return "unavailable: " + p.Reason
	}
	return "unavailable"
}

func profileStatusClass(p CodecProfile) string {
	if p.Available {
		return "available"
	}
	return "unavailable"
}
