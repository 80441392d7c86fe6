package transporthttp

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (d *ServerDeps) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(Recover(d.Log))
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		WriteProblem(w, http.StatusNotFound, "not found", "no such route", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		WriteProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", nil)
	})

	r.HandleFunc("/healthz", d.HandleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", d.HandleReadyz).Methods(http.MethodGet)

	auth := APIKeyAuth(d.Cfg.APIKeys)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(auth, RequireJSON, BodyLimit(d.Cfg.MaxBodyBytes))
	v1.HandleFunc("/samples/location", d.HandlePostLocation).Methods(http.MethodPost)
	v1.HandleFunc("/samples/audio", d.HandlePostAudio).Methods(http.MethodPost)
	v1.HandleFunc("/signals/conversation", d.HandlePostConversation).Methods(http.MethodPost)
	v1.HandleFunc("/notifications/{id}/interactions", d.HandlePostInteraction).Methods(http.MethodPost)
	v1.HandleFunc("/devices/{device}/stop", d.HandleStopDevice).Methods(http.MethodPost)
	v1.HandleFunc("/devices/{device}/state", d.HandleGetDeviceState).Methods(http.MethodGet)
	v1.HandleFunc("/areas/resolve", d.HandleResolveArea).Methods(http.MethodGet)

	m := r.PathPrefix("/metrics").Subrouter()
	m.Use(auth, RateLimitPerMinute(d.Cfg.RateLimitMetricsPerMin, d.Now))
	m.HandleFunc("/triggers", d.HandleGetTriggerMetrics).Methods(http.MethodGet)
	m.Handle("/prometheus", promhttp.Handler()).Methods(http.MethodGet)

	r.Handle("/ws", auth(http.HandlerFunc(d.HandleWS))).Methods(http.MethodGet)

	return r
}
