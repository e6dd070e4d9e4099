package webapp

import (
	"github.com/maxence-charriere/go-app/v10/pkg/app"
)

// App is the root component of the application
type App struct {
	app.Compo
}

// Render renders the app
func (a *App) Render() app.UI {
	return app.Div().
		Class("app-container").
		Body(
			app.Header().Body(
				&NavBar{},
			),
			app.Div().Class("app-layout").Body(
				&Sidebar{},
				app.Main().Class("main-content").Body(
					app.Div().Class("content").Body(
						pageFor(app.Window().URL().Path),
					),
				),
			),
		)
}

// navItem is one entry of the navbar and sidebar menus
type navItem struct {
	icon  string
	label string
	href  string
}

var navItems = []navItem{
	{icon: "🎞️", label: "Project", href: "/"},
	{icon: "⚙️", label: "Jobs", href: "/jobs"},
	{icon: "ℹ️", label: "About", href: "/about"},
}

// pageFor picks the page component for a route
func pageFor(path string) app.UI {
	switch path {
	case "/", "/project":
		return &ProjectPage{}
	case "/jobs":
		return &JobsPage{}
	case "/about":
		return &AboutPage{}
	default:
		return &NotFoundPage{}
	}
}
