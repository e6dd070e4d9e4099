//go:build js && wasm
// +build js,wasm

package main

import (
	"github.com/drummonds/vidfrompdf/webapp"
	"github.com/maxence-charriere/go-app/v10/pkg/app"
)

func main() {
	// Every client route renders App, which picks the page from the path
	webapp.RegisterRoutes()

	// This main function is for the WASM build only
	app.RunWhenOnBrowser()
}
