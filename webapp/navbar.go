package webapp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/maxence-charriere/go-app/v10/pkg/app"
)

// Version info - can be set at build time with -ldflags
var (
	Version   = "dev"
	BuildDate = ""
)

// NavBar is the navigation bar component
type NavBar struct {
	app.Compo
	activeJobCount int
	refreshTicker  *time.Ticker
}

// Render renders the navigation bar
func (n *NavBar) Render() app.UI {
	return app.Nav().
		Class("navbar").
		Body(
			app.Button().
				Class("hamburger-menu").
				ID("menu-toggle").
				OnClick(n.onMenuToggle).
				Body(
					// Three horizontal lines for hamburger menu
					app.Span().Class("hamburger-line"),
					app.Span().Class("hamburger-line"),
					app.Span().Class("hamburger-line"),
				),
			app.Div().Class("navbar-brand").Body(
				app.H1().Text("vidfrompdf"),
				app.Span().Class("version-info").Body(
					app.Text(n.getVersionInfo()),
				),
			),
			app.Div().Class("navbar-menu").Body(n.renderMenu()...),
		)
}

func (n *NavBar) renderMenu() []app.UI {
	items := make([]app.UI, 0, len(navItems))
	for _, item := range navItems {
		label := item.label
		if item.href == "/jobs" {
			label = n.jobsLabel()
		}
		items = append(items, app.A().Href(item.href).Class("navbar-item").Text(label))
	}
	return items
}

// onMenuToggle handles the hamburger menu click
func (n *NavBar) onMenuToggle(ctx app.Context, e app.Event) {
	// Dispatch a custom event to toggle the sidebar
	ctx.Dispatch(func(ctx app.Context) {
		ctx.LocalStorage().Set("sidebar-open", !n.isSidebarOpen(ctx))
		ctx.Reload()
	})
}

// isSidebarOpen checks if the sidebar is currently open
func (n *NavBar) isSidebarOpen(ctx app.Context) bool {
	var isOpen bool
	ctx.LocalStorage().Get("sidebar-open", &isOpen)
	return isOpen
}

// OnMount is called when the component is mounted
func (n *NavBar) OnMount(ctx app.Context) {
	n.loadActiveJobCount(ctx)

	if !app.IsClient {
		return
	}
	// Start auto-refresh every 5 seconds
	ctx.Async(func() {
		n.refreshTicker = time.NewTicker(5 * time.Second)
		for range n.refreshTicker.C {
			n.loadActiveJobCount(ctx)
		}
	})
}

// OnDismount is called when the component is unmounted
func (n *NavBar) OnDismount() {
	if n.refreshTicker != nil {
		n.refreshTicker.Stop()
	}
}

// getVersionInfo returns formatted version and date information
func (n *NavBar) getVersionInfo() string {
	date := BuildDate
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}
	return fmt.Sprintf("%s | %s", Version, date)
}

// jobsLabel shows the number of running extractions and renders
func (n *NavBar) jobsLabel() string {
	switch n.activeJobCount {
	case 0:
		return "Jobs"
	case 1:
		return "Jobs (1 active)"
	}
	return fmt.Sprintf("Jobs (%d active)", n.activeJobCount)
}

// loadActiveJobCount fetches the count of active jobs from the API
func (n *NavBar) loadActiveJobCount(ctx app.Context) {
	fetchBytes(ctx, http.MethodGet, "/api/jobs/active", "", nil, func(ctx app.Context, status int, data []byte, err error) {
		// keep the last count on network errors
		if err != nil {
			return
		}
		var jobs []Job
		if status < 200 || status >= 300 || json.Unmarshal(data, &jobs) != nil {
			n.activeJobCount = 0
			return
		}
		n.activeJobCount = len(jobs)
	})
}
