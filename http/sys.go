package http

import (
	"net/http"
	"time"

	metrics "github.com/hashicorp/go-metrics/compat"

	"github.com/stephnangue/jwtsecrets/core"
)

type healthResponse struct {
	Initialized   bool     `json:"initialized"`
	ServerTimeUTC int64    `json:"server_time_utc"`
	Mounts        []string `json:"mounts"`
}

func handleSysHealth(c *core.Core) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mounts := []string{}
		for _, m := range c.Mounts() {
			mounts = append(mounts, m.Path)
		}
		respondOk(w, &healthResponse{
			Initialized:   true,
			ServerTimeUTC: time.Now().UTC().Unix(),
			Mounts:        mounts,
		})
	})
}

func handleSysMetrics(sink *metrics.InmemSink) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		summary, err := sink.DisplayMetrics(w, r)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondOk(w, summary)
	})
}
