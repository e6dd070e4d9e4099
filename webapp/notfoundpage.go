package webapp

import (
	"github.com/maxence-charriere/go-app/v10/pkg/app"
)

// NotFoundPage is shown for client routes the app does not know
type NotFoundPage struct {
	app.Compo
	path string
}

func (p *NotFoundPage) OnNav(ctx app.Context) {
	p.path = ctx.Page().URL().Path
}

func (p *NotFoundPage) Render() app.UI {
	message := "There is no page here."
	if p.path != "" {
		message = "There is no page at " + p.path + "."
	}
	return app.Div().Class("not-found-page").Body(
		app.Div().Class("not-found-container").Body(
			app.H1().Class("not-found-title").Text("404"),
			app.H2().Class("not-found-subtitle").Text("Page Not Found"),
			app.P().Class("not-found-message").Text(message),
			app.Div().Class("not-found-actions").Body(
				app.A().Href("/").Class("not-found-home-link").Text("🎞️ Back to your project"),
			),
		),
	)
}
