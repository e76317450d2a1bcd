package handlers

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/hanko-field/automation/internal/domain"
	"github.com/hanko-field/automation/internal/platform/httpx"
	"github.com/hanko-field/automation/internal/services"
)

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	system services.SystemService
	build  services.BuildInfo
	clock  func() time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthSystemService sets the service used by /readyz to probe dependencies.
func WithHealthSystemService(system services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = system
	}
}

// WithHealthBuildInfo sets the build metadata reported by /healthz.
func WithHealthBuildInfo(build services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = build
	}
}

// WithHealthClock injects a clock for uptime and timestamps.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers constructs the probe handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

type healthzResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version,omitempty"`
	CommitSHA     string  `json:"commitSha,omitempty"`
	Environment   string  `json:"environment,omitempty"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
	Timestamp     string  `json:"timestamp"`
}

type readyzResponse struct {
	Status        string                      `json:"status"`
	Version       string                      `json:"version,omitempty"`
	CommitSHA     string                      `json:"commitSha,omitempty"`
	Environment   string                      `json:"environment,omitempty"`
	UptimeSeconds float64                     `json:"uptimeSeconds"`
	GeneratedAt   string                      `json:"generatedAt"`
	Checks        map[string]readyCheckResult `json:"checks"`
	Details       []string                    `json:"details,omitempty"`
}

type readyCheckResult struct {
	Status    string  `json:"status"`
	LatencyMS float64 `json:"latencyMs"`
	Detail    string  `json:"detail,omitempty"`
	Error     string  `json:"error,omitempty"`
	CheckedAt string  `json:"checkedAt,omitempty"`
}

// Healthz reports process liveness without touching dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	httpx.WriteJSON(w, http.StatusOK, healthzResponse{
		Status:        domain.HealthStatusOK,
		Version:       h.build.Version,
		CommitSHA:     h.build.CommitSHA,
		Environment:   h.build.Environment,
		UptimeSeconds: now.Sub(h.build.StartedAt).Seconds(),
		Timestamp:     now.Format(time.RFC3339),
	})
}

// Readyz probes dependencies and answers 503 unless every check is ok.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	resp := readyzResponse{
		Status:        domain.HealthStatusOK,
		Version:       h.build.Version,
		CommitSHA:     h.build.CommitSHA,
		Environment:   h.build.Environment,
		UptimeSeconds: now.Sub(h.build.StartedAt).Seconds(),
		GeneratedAt:   now.Format(time.RFC3339Nano),
		Checks:        map[string]readyCheckResult{},
	}

	if h.system != nil {
		report, err := h.system.HealthReport(r.Context())
		if err != nil {
			resp.Status = domain.HealthStatusError
			resp.Details = []string{fmt.Sprintf("health: %v", err)}
			httpx.WriteJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp.Status = report.Status
		if resp.Status == "" {
			resp.Status = domain.HealthStatusOK
		}
		if report.Version != "" {
			resp.Version = report.Version
		}
		if report.CommitSHA != "" {
			resp.CommitSHA = report.CommitSHA
		}
		if report.Environment != "" {
			resp.Environment = report.Environment
		}
		if report.Uptime > 0 {
			resp.UptimeSeconds = report.Uptime.Seconds()
		}
		if !report.GeneratedAt.IsZero() {
			resp.GeneratedAt = report.GeneratedAt.UTC().Format(time.RFC3339Nano)
		}
		resp.Checks, resp.Details = summariseChecks(report.Checks)
	}

	status := http.StatusOK
	if resp.Status != domain.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, status, resp)
}

func summariseChecks(checks map[string]domain.SystemHealthCheck) (map[string]readyCheckResult, []string) {
	out := make(map[string]readyCheckResult, len(checks))
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var details []string
	for _, name := range names {
		check := checks[name]
		result := readyCheckResult{
			Status:    check.Status,
			LatencyMS: float64(check.Latency) / float64(time.Millisecond),
			Detail:    check.Detail,
			Error:     check.Error,
		}
		if !check.CheckedAt.IsZero() {
			result.CheckedAt = check.CheckedAt.UTC().Format(time.RFC3339Nano)
		}
		out[name] = result
		if check.Status != domain.HealthStatusOK && check.Status != "" {
			reason := strings.TrimSpace(check.Error)
			if reason == "" {
				reason = firstNonBlank(check.Detail, check.Status)
			}
			details = append(details, name+": "+reason)
		}
	}
	return out, details
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
