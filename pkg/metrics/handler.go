package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultPath is the scrape path.
const DefaultPath = "/metrics"

// NewMux serves the registry at path plus a /health endpoint.
func NewMux(reg *prometheus.Registry, path string) *http.ServeMux {
	if path == "" {
		path = DefaultPath
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          reg,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// NewHTTPServer creates the metrics HTTP server for addr.
func NewHTTPServer(addr string, reg *prometheus.Registry, path string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewMux(reg, path),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
