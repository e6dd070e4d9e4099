package webapp

import (
	"net/http"

	"github.com/maxence-charriere/go-app/v10/pkg/app"
)

// Routes served by the web app
var Routes = []string{"/", "/project", "/jobs", "/about"}

// RegisterRoutes registers every page route with the App component
func RegisterRoutes() {
	for _, path := range Routes {
		app.Route(path, func() app.Composer { return &App{} })
	}
}

// Handler returns an HTTP handler for the web app
func Handler() http.Handler {
	RegisterRoutes()
	app.RunWhenOnBrowser()

	// wasm_exec.js is served at /wasm_exec.js by Echo
	// app.wasm is served from /web/app.wasm by Echo
	return &app.Handler{
		Name:        "vidfrompdf",
		Title:       "vidfrompdf",
		Description: "Narrated videos from PDF slide decks",
		Icon: app.Icon{
			Default: "/favicon.ico",
		},
		Styles: []string{
			"/webapp/webapp.css",
		},
		Scripts: []string{
			"/config.js", // Load backend API configuration
		},
		RawHeaders: []string{
			`<meta name="viewport" content="width=device-width, initial-scale=1">`,
		},
	}
}
