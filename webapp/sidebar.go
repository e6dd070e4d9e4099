package webapp

import (
	"github.com/maxence-charriere/go-app/v10/pkg/app"
)

// Sidebar is the left sidebar menu component
type Sidebar struct {
	app.Compo
	isOpen bool
}

// OnMount is called when the component is mounted
func (s *Sidebar) OnMount(ctx app.Context) {
	s.isOpen = s.getSidebarState(ctx)
}

// OnNav is called when navigation occurs
func (s *Sidebar) OnNav(ctx app.Context) {
	s.isOpen = s.getSidebarState(ctx)
}

// Render renders the sidebar
func (s *Sidebar) Render() app.UI {
	class := "sidebar"
	if s.isOpen {
		class += " sidebar-open"
	}

	return app.Aside().
		Class(class).
		Body(
			app.Div().Class("sidebar-header").Body(
				app.H2().Text("Menu"),
			),
			app.Nav().Class("sidebar-nav").Body(
				app.Range(navItems).Slice(func(i int) app.UI {
					return s.renderNavItem(navItems[i], app.Window().URL().Path)
				}),
			),
		)
}

// renderNavItem creates a navigation item, highlighted when it is the current page
func (s *Sidebar) renderNavItem(item navItem, currentPath string) app.UI {
	class := "sidebar-item"
	if currentPath == item.href || (item.href == "/" && currentPath == "/project") {
		class += " sidebar-item-active"
	}

	return app.A().
		Href(item.href).
		Class(class).
		Body(
			app.Span().Class("sidebar-icon").Text(item.icon),
			app.Span().Class("sidebar-label").Text(item.label),
		)
}

// getSidebarState retrieves the sidebar open/closed state from local storage
func (s *Sidebar) getSidebarState(ctx app.Context) bool {
	var isOpen bool
	ctx.LocalStorage().Get("sidebar-open", &isOpen)
	return isOpen
}
