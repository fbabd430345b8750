package models

// RouteConfigView is the public description of one configured route.
type RouteConfigView struct {
	Name                        string   `json:"name"`
	Start                       string   `json:"start"`
	End                         string   `json:"end"`
	Waypoint                    string   `json:"waypoint,omitempty"`
	Priority                    Priority `json:"priority"`
	UpdateIntervalMinutes       int      `json:"update_interval"`
	FutureUpdateIntervalMinutes int      `json:"future_update_interval"`
	Pending                     bool     `json:"pending"`
}

// NewRouteConfigView converts a RouteConfig for display.
func NewRouteConfigView(r RouteConfig, pending bool) RouteConfigView {
	return RouteConfigView{
		Name:                        r.Name,
		Start:                       r.Start,
		End:                         r.End,
		Waypoint:                    r.Waypoint,
		Priority:                    r.Priority,
		UpdateIntervalMinutes:       int(r.UpdateInterval.Minutes()),
		FutureUpdateIntervalMinutes: int(r.FutureUpdateInterval.Minutes()),
		Pending:                     pending,
	}
}

// ConfigModel describes the running service configuration.
type ConfigModel struct {
	Id            string            `json:"id"`
	Name          string            `json:"name"`
	Version       string            `json:"version"`
	Commit        string            `json:"commit"`
	Branch        string            `json:"branch"`
	BuildTime     string            `json:"build_time"`
	Timezone      string            `json:"timezone"`
	MaxDailyCalls int               `json:"max_daily_calls"`
	Routes        []RouteConfigView `json:"routes"`
}
