package restapi

import (
	"errors"
	"net/http"
	"time"

	"navieta.dev/internal/coordinator"
	"navieta.dev/internal/manager"
	"navieta.dev/internal/models"
	"navieta.dev/internal/sensor"
)

// routeView is a sensor reading plus the coordinator bookkeeping behind it.
type routeView struct {
	sensor.Reading
	CoordinatorState  string    `json:"coordinator_state"`
	Pending           bool      `json:"pending"`
	CallsMadeToday    int       `json:"calls_made_today"`
	CallsRemaining    int       `json:"calls_remaining"`
	LastFutureFetchAt time.Time `json:"last_future_fetch_at,omitzero"`
	LastError         string    `json:"last_error,omitempty"`
}

func (api *RestAPI) newRouteView(c *coordinator.Coordinator, now time.Time) routeView {
	route := c.Route()
	v := routeView{
		Reading:           sensor.Project(route, c.Snapshot(), c.IsStale(now), now),
		CoordinatorState:  c.State().String(),
		Pending:           !api.Routes.IsReady(route.Name),
		CallsMadeToday:    c.CallsMadeToday(),
		CallsRemaining:    c.CallsRemaining(),
		LastFutureFetchAt: c.LastFutureFetchAt(),
	}
	if res, ok := c.LastResult(); ok && res.Err != nil {
		v.LastError = res.Err.Error()
	} else if err := api.Routes.LastSetupError(route.Name); err != nil {
		v.LastError = err.Error()
	}
	return v
}

func (api *RestAPI) routesHandler(w http.ResponseWriter, r *http.Request) {
	now := api.Clock.Now()
	coords := api.Routes.All()

	views := make([]routeView, 0, len(coords))
	for _, c := range coords {
		views = append(views, api.newRouteView(c, now))
	}
	api.sendOK(w, r, views)
}

func (api *RestAPI) routeHandler(w http.ResponseWriter, r *http.Request) {
	c, ok := api.lookupRoute(w, r)
	if !ok {
		return
	}
	api.sendOK(w, r, api.newRouteView(c, api.Clock.Now()))
}

type refreshResponse struct {
	Status        string    `json:"status"`
	Calls         int       `json:"calls"`
	FutureFetched bool      `json:"future_fetched"`
	Error         string    `json:"error,omitempty"`
	FutureError   string    `json:"future_error,omitempty"`
	Route         routeView `json:"route"`
}

// refreshHandler runs an out-of-schedule refresh. A refresh that leaves the
// route with nothing to serve answers 502 with the same body.
func (api *RestAPI) refreshHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	result, err := api.Routes.RefreshNow(r.Context(), name)
	if err != nil {
		api.routeError(w, r, err)
		return
	}
	c, err := api.Routes.Get(name)
	if err != nil {
		api.routeError(w, r, err)
		return
	}

	body := refreshResponse{
		Status:        result.Status.String(),
		Calls:         result.Calls,
		FutureFetched: result.FutureFetched,
		Route:         api.newRouteView(c, api.Clock.Now()),
	}
	if result.Err != nil {
		body.Error = result.Err.Error()
	}
	if result.FutureErr != nil {
		body.FutureError = result.FutureErr.Error()
	}

	resp := models.NewOKResponse(body, api.Clock)
	if result.Status == coordinator.StatusFailed {
		resp.Code = http.StatusBadGateway
		resp.Text = "refresh produced no data"
	}
	api.sendResponse(w, r, resp)
}

func (api *RestAPI) lookupRoute(w http.ResponseWriter, r *http.Request) (*coordinator.Coordinator, bool) {
	c, err := api.Routes.Get(r.PathValue("name"))
	if err != nil {
		api.routeError(w, r, err)
		return nil, false
	}
	return c, true
}

// routeError maps manager and coordinator errors onto HTTP statuses.
func (api *RestAPI) routeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, manager.ErrRouteNotFound):
		api.sendNotFound(w, r)
	case errors.Is(err, coordinator.ErrInvalidWindow):
		api.sendBadRequest(w, r, err)
	case errors.Is(err, coordinator.ErrBudgetExhausted):
		api.sendError(w, r, http.StatusTooManyRequests, err.Error())
	default:
		api.serverErrorResponse(w, r, err)
	}
}
