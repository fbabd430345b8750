// Package webui serves the operator debug pages.
package webui

import (
	"net/http"

	"navieta.dev/internal/app"
)

type WebUI struct {
	*app.Application
}

func (webUI *WebUI) SetWebUIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /debug/routes", webUI.debugIndexHandler)
}
