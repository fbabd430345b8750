package restapi

import (
	"net/http"

	"navieta.dev/internal/buildinfo"
	"navieta.dev/internal/coordinator"
	"navieta.dev/internal/models"
)

func (api *RestAPI) configHandler(w http.ResponseWriter, r *http.Request) {
	timezone := "Local"
	if api.Config.Location != nil {
		timezone = api.Config.Location.String()
	}
	maxCalls := api.NaviConfig.MaxDailyCalls
	if maxCalls <= 0 {
		maxCalls = coordinator.DefaultMaxDailyCalls
	}

	config := models.ConfigModel{
		Id:            "navieta",
		Name:          "navieta travel time service",
		Version:       buildinfo.Version,
		Commit:        buildinfo.CommitHash,
		Branch:        buildinfo.Branch,
		BuildTime:     buildinfo.BuildTime,
		Timezone:      timezone,
		MaxDailyCalls: maxCalls,
		Routes:        []models.RouteConfigView{},
	}
	for _, c := range api.Routes.All() {
		route := c.Route()
		config.Routes = append(config.Routes, models.NewRouteConfigView(route, !api.Routes.IsReady(route.Name)))
	}

	api.sendOK(w, r, config)
}
