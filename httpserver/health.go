package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/errgroup"
)

const (
	healthOK      = "OK"
	healthBad     = "BAD"
	healthUnknown = "UNKNOWN"
	healthError   = "ERROR"

	defaultHealthTimeout = 5 * time.Second
	maxHealthBody        = 1 << 20
)

// ServiceHealth is the outcome of one dependency's cascaded health check.
type ServiceHealth struct {
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	StatusCode  *int            `json:"status_code"`
	ContentType *string         `json:"content_type"`
	Content     json.RawMessage `json:"content"`
}

// CascadeResponse is the body of /health/cascade/{depth}.
type CascadeResponse struct {
	CascadeDepth    int             `json:"cascade_depth"`
	ServerTimestamp string          `json:"server_timestamp"`
	App             string          `json:"app"`
	Status          string          `json:"status"`
	Commit          string          `json:"commit"`
	DB              []any           `json:"db"`
	Services        []ServiceHealth `json:"services"`
}

// HealthHandler serves /health and /health/cascade/{depth}.
type HealthHandler struct {
	cfg    HealthConfig
	client *retryablehttp.Client
	log    *slog.Logger
}

// NewHealthHandler creates a health handler. Dependency checks retry once
// on connection errors; any HTTP response is final.
func NewHealthHandler(cfg HealthConfig, log *slog.Logger) *HealthHandler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHealthTimeout
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 1
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 500 * time.Millisecond
	client.HTTPClient.Timeout = cfg.Timeout
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if resp != nil {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	client.Logger = log

	return &HealthHandler{
		cfg:    cfg,
		client: client,
		log:    log,
	}
}

func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"app":    h.cfg.AppName,
		"status": healthOK,
		"commit": h.cfg.Commit,
	})
}

// HandleCascade reports this service's health together with that of its
// dependencies, asking each for depth-1 levels of their own.
//
// URL format: GET /health/cascade/{depth}
//
// Any dependency that is not OK turns the overall status BAD with a 500.
func (h *HealthHandler) HandleCascade(w http.ResponseWriter, r *http.Request) {
	rawDepth := r.PathValue("depth")
	depth, err := strconv.Atoi(rawDepth)
	if err != nil || depth < 0 || depth > h.cfg.MaxCascade {
		h.log.ErrorContext(r.Context(), "Cascade depth out of allowed range",
			slog.String("depth", rawDepth),
			slog.Int("max", h.cfg.MaxCascade))
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"app":           h.cfg.AppName,
			"cascade_depth": rawDepth,
			"status":        healthError,
			"timestamp":     time.Now().Format(time.RFC3339Nano),
		})
		return
	}

	services := []ServiceHealth{}
	if depth > 0 {
		services = h.checkDependencies(r.Context(), depth-1)
	}

	resp := CascadeResponse{
		CascadeDepth:    depth,
		ServerTimestamp: time.Now().Format(time.RFC3339Nano),
		App:             h.cfg.AppName,
		Status:          healthOK,
		Commit:          h.cfg.Commit,
		DB:              []any{},
		Services:        services,
	}

	status := http.StatusOK
	for _, s := range services {
		if s.Status != healthOK {
			resp.Status = healthBad
			status = http.StatusInternalServerError
			break
		}
	}

	writeJSON(w, status, resp)
}

// checkDependencies queries every dependency concurrently. Results are
// ordered by dependency name.
func (h *HealthHandler) checkDependencies(ctx context.Context, depth int) []ServiceHealth {
	names := make([]string, 0, len(h.cfg.Dependencies))
	for name := range h.cfg.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)

	services := make([]ServiceHealth, len(names))
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			services[i] = h.checkDependency(ctx, name, h.cfg.Dependencies[name], depth)
			return nil
		})
	}
	g.Wait()

	return services
}

func (h *HealthHandler) checkDependency(ctx context.Context, name, baseURL string, depth int) ServiceHealth {
	service := ServiceHealth{Name: name, Type: "http", Status: healthUnknown}

	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	url := baseURL + "health/cascade/" + strconv.Itoa(depth)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		h.log.ErrorContext(ctx, "Invalid dependency health url", slog.String("dependency", name), "err", err)
		return service
	}

	resp, err := h.client.Do(req)
	if err != nil {
		h.log.ErrorContext(ctx, "Health cascade request failed",
			slog.String("dependency", name),
			slog.String("url", url),
			"err", err)
		return service
	}
	defer resp.Body.Close()

	statusCode := resp.StatusCode
	contentType := resp.Header.Get("Content-Type")
	service.StatusCode = &statusCode
	service.ContentType = &contentType

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHealthBody))
	if err == nil && json.Valid(body) {
		service.Content = body
	}

	switch statusCode {
	case http.StatusOK:
		service.Status = healthOK
	case http.StatusInternalServerError:
		service.Status = healthBad
	}

	return service
}
