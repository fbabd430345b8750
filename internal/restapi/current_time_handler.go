package restapi

import (
	"net/http"
	"time"
)

type currentTimeData struct {
	Time         int64  `json:"time"`
	ReadableTime string `json:"readableTime"`
	Timezone     string `json:"timezone"`
}

// currentTimeHandler reports the service clock, which is also the clock
// that drives the daily budget reset.
func (api *RestAPI) currentTimeHandler(w http.ResponseWriter, r *http.Request) {
	now := api.Clock.Now()
	if api.Config.Location != nil {
		now = now.In(api.Config.Location)
	}

	api.sendOK(w, r, currentTimeData{
		Time:         now.UnixMilli(),
		ReadableTime: now.Format(time.RFC3339),
		Timezone:     now.Location().String(),
	})
}
