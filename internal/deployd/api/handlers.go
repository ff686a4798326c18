package api

import "net/http"

const Version = "v0.1.0"

type VersionHandler struct {
}

func NewVersionHandler() *VersionHandler {
	return &VersionHandler{}
}

func (h *VersionHandler) Pattern() string {
	return "/version"
}

func (h *VersionHandler) Method() string {
	return http.MethodGet
}

func (h *VersionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(Version))
}

// MetricsRoute exposes the Prometheus registry.
type MetricsRoute struct {
	handler http.Handler
}

func NewMetricsRoute(handler http.Handler) *MetricsRoute {
	return &MetricsRoute{
		handler: handler,
	}
}

func (h *MetricsRoute) Pattern() string {
	return "/metrics"
}

func (h *MetricsRoute) Method() string {
	return http.MethodGet
}

func (h *MetricsRoute) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}
