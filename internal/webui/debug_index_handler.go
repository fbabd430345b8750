package webui

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/davecgh/go-spew/spew"

	"navieta.dev/internal/appconf"
	"navieta.dev/internal/logging"
	"navieta.dev/internal/models"
)

//go:embed debug_index.html
var templateFS embed.FS

var debugTemplate = template.Must(template.ParseFS(templateFS, "debug_index.html"))

type debugData struct {
	Title string
	Pre   string
}

type budgetDump struct {
	Route             string
	State             string
	Ready             bool
	CallsMadeToday    int
	CallsRemaining    int
	LastFutureFetchAt time.Time
	LastError         error
}

func writeDebugData(w http.ResponseWriter, r *http.Request, title string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	dataStruct := debugData{
		Title: title,
		Pre:   spew.Sdump(data),
	}
	if err := debugTemplate.Execute(w, dataStruct); err != nil {
		logging.LogError(logging.FromContext(r.Context()), "failed to execute debug template", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (webUI *WebUI) debugIndexHandler(w http.ResponseWriter, r *http.Request) {
	if webUI.Config.Env == appconf.Production || webUI.Routes == nil {
		http.NotFound(w, r)
		return
	}

	var data any
	var title string

	switch r.URL.Query().Get("dataType") {
	case "routes":
		data = webUI.Routes.Readings()
		title = "Routes - Readings"
	case "budgets":
		data = webUI.budgets()
		title = "Routes - Call Budgets"
	case "pending":
		pending := make(map[string]error)
		for _, name := range webUI.Routes.Pending() {
			pending[name] = webUI.Routes.LastSetupError(name)
		}
		data = pending
		title = "Routes - Pending"
	case "searches":
		searches := make(map[string]*models.DepartureSearch)
		for _, name := range webUI.Routes.Names() {
			search, err := webUI.Routes.LatestDepartureSearch(r.Context(), name)
			if err != nil {
				logging.LogError(logging.FromContext(r.Context()), "failed to load departure search", err,
					slog.String("route", name))
				continue
			}
			searches[name] = search
		}
		data = searches
		title = "Routes - Latest Departure Searches"
	default:
		data = map[string]string{
			"error": "Please use one of the following: routes, budgets, pending, searches.",
		}
		title = "Choose a data type"
	}

	writeDebugData(w, r, title, data)
}

func (webUI *WebUI) budgets() []budgetDump {
	coords := webUI.Routes.All()
	out := make([]budgetDump, 0, len(coords))
	for _, c := range coords {
		name := c.Route().Name
		d := budgetDump{
			Route:             name,
			State:             c.State().String(),
			Ready:             webUI.Routes.IsReady(name),
			CallsMadeToday:    c.CallsMadeToday(),
			CallsRemaining:    c.CallsRemaining(),
			LastFutureFetchAt: c.LastFutureFetchAt(),
		}
		if res, ok := c.LastResult(); ok {
			d.LastError = res.Err
		}
		out = append(out, d)
	}
	return out
}
