// Package metrics exposes the gateway's Prometheus collectors and the
// server that publishes them.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ResultSuccess  = "success"
	ResultNotFound = "not_found"
	ResultError    = "error"
)

var (
	storageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_operations_total",
			Help: "Total number of storage backend operations",
		},
		[]string{"backend", "operation", "result"},
	)

	storageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storage_operation_duration_seconds",
			Help:    "Storage backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_gateway_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storage_gateway_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	uploadedFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_gateway_uploaded_files_total",
			Help: "Total number of files accepted or rejected by the upload endpoint",
		},
		[]string{"result"},
	)

	serviceInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storage_gateway_service_info",
			Help: "Always 1, labelled with the service name",
		},
		[]string{"service"},
	)

	malwareScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_gateway_malware_scans_total",
			Help: "Total number of malware scans by outcome",
		},
		[]string{"result"},
	)
)

// RecordStorageOperation records one backend call.
func RecordStorageOperation(backend, operation, result string, duration time.Duration) {
	storageOperationsTotal.WithLabelValues(backend, operation, result).Inc()
	storageOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordUpload records the outcome for count uploaded files.
func RecordUpload(result string, count int) {
	uploadedFilesTotal.WithLabelValues(result).Add(float64(count))
}

// RecordScan records a malware scan outcome: "clean", "infected" or "error".
func RecordScan(result string) {
	malwareScansTotal.WithLabelValues(result).Inc()
}

// MetricsServer serves the default Prometheus registry on its own listener.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server for the given service name and address.
func New(service, addr string) (*MetricsServer, error) {
	if service == "" {
		return nil, errors.New("metrics service name is empty")
	}
	serviceInfo.WithLabelValues(service).Set(1)

	mux := chi.NewRouter()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
