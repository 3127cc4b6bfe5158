// Package handler provides HTTP handlers for the waitlist API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/tableqr/waitlist/internal/api/models"
	"github.com/tableqr/waitlist/internal/api/response"
	"github.com/tableqr/waitlist/internal/featureflags"
	"github.com/tableqr/waitlist/internal/notify"
	"github.com/tableqr/waitlist/internal/provider/resilience"
)

const readinessTimeout = 2 * time.Second

// Pinger checks a dependency. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// FeedStatus reports whether the change feed is connected.
type FeedStatus interface {
	Available() bool
}

// PushSupport reports whether push delivery is available.
type PushSupport interface {
	Support() notify.Support
}

// OpsHandlerConfig holds configuration for the OpsHandler. Every
// dependency is optional; missing ones are left out of the reports.
type OpsHandlerConfig struct {
	Version   string
	BuildTime string
	Database  Pinger
	Feed      FeedStatus
	Push      PushSupport
	Providers *resilience.Registry
	Flags     *featureflags.Service
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	cfg OpsHandlerConfig
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsHandlerConfig) *OpsHandler {
	return &OpsHandler{cfg: cfg}
}

// HealthCheck handles GET /ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Now(),
		Details: map[string]interface{}{
			"version":   h.cfg.Version,
			"buildTime": h.cfg.BuildTime,
		},
	})
}

// ReadinessCheck handles GET /ops/ready. The service is ready when the
// database answers and the change feed is connected.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	subsystems := h.subsystems(r.Context())

	health := models.Health{
		Status:  models.HealthStatusOK,
		Time:    models.Now(),
		Details: map[string]interface{}{},
	}
	for _, s := range subsystems {
		health.Details[s.Name] = s.Status
		if s.Status != models.HealthStatusOK {
			health.Status = models.HealthStatusFail
		}
	}

	status := http.StatusOK
	if health.Status != models.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, r, status, health)
}

// SystemStatus handles GET /ops/status - subsystem and push provider status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := models.SystemStatus{
		Status:     models.HealthStatusOK,
		Time:       models.Now(),
		Subsystems: h.subsystems(ctx),
		Providers:  h.providers(),
	}

	for _, s := range status.Subsystems {
		status.Status = status.Status.Worse(s.Status)
	}
	for _, p := range status.Providers {
		if p.Status != models.HealthStatusOK {
			// a failing push provider degrades delivery but not the queue
			status.Status = status.Status.Worse(models.HealthStatusDegraded)
		}
	}

	if h.cfg.Flags != nil {
		for _, key := range []string{featureflags.FlagDisableReadyNotifications, featureflags.FlagDisableQueueStream} {
			if h.cfg.Flags.IsEnabled(ctx, key) {
				status.ActiveDegradationFlags = append(status.ActiveDegradationFlags, key)
			}
		}
	}

	response.JSON(w, r, http.StatusOK, status)
}

// Flags handles GET /ops/flags - the effective feature flag values.
func (h *OpsHandler) Flags(w http.ResponseWriter, r *http.Request) {
	resp := models.FlagsResponse{Flags: map[string]interface{}{}}
	if h.cfg.Flags != nil {
		for key, flag := range h.cfg.Flags.GetAllFlags(r.Context()) {
			resp.Flags[key] = flag.Value
		}
		for _, o := range h.cfg.Flags.Overrides(r.Context()) {
			resp.Overrides = append(resp.Overrides, models.FlagOverride{
				Key:       o.Key,
				StoreID:   o.StoreID,
				Value:     o.Value,
				UpdatedAt: models.NewTimestamp(o.UpdatedAt),
			})
		}
	}
	response.JSON(w, r, http.StatusOK, resp)
}

func (h *OpsHandler) subsystems(ctx context.Context) []models.SubsystemStatus {
	var out []models.SubsystemStatus

	if h.cfg.Database != nil {
		s := models.SubsystemStatus{Name: "database", Status: models.HealthStatusOK}
		pingCtx, cancel := context.WithTimeout(ctx, readinessTimeout)
		if err := h.cfg.Database.Ping(pingCtx); err != nil {
			detail := err.Error()
			s.Status = models.HealthStatusFail
			s.Detail = &detail
		}
		cancel()
		out = append(out, s)
	}

	if h.cfg.Feed != nil {
		s := models.SubsystemStatus{Name: "change-feed", Status: models.HealthStatusOK}
		if !h.cfg.Feed.Available() {
			detail := "not connected"
			s.Status = models.HealthStatusFail
			s.Detail = &detail
		}
		out = append(out, s)
	}

	return out
}

func (h *OpsHandler) providers() []models.ProviderStatus {
	var out []models.ProviderStatus

	if h.cfg.Providers != nil {
		for _, p := range h.cfg.Providers.Snapshot() {
			status := models.HealthStatusOK
			switch p.Condition {
			case resilience.Unavailable:
				status = models.HealthStatusFail
			case resilience.Recovering:
				status = models.HealthStatusDegraded
			}
			out = append(out, models.ProviderStatus{
				Provider:     p.Name,
				Status:       status,
				CircuitState: p.CircuitState.String(),
				Failures:     p.Counts.ConsecutiveFailures,
			})
		}
	}

	if h.cfg.Push != nil {
		support := h.cfg.Push.Support()
		idx := -1
		for i := range out {
			if out[i].Provider == notify.ProviderName {
				idx = i
			}
		}
		if idx >= 0 {
			out[idx].Support = support.String()
		} else {
			entry := models.ProviderStatus{Provider: notify.ProviderName, Status: models.HealthStatusOK, Support: support.String()}
			if support == notify.Unsupported {
				msg := "push delivery unavailable, notifications are logged only"
				entry.Status = models.HealthStatusDegraded
				entry.Message = &msg
			}
			out = append(out, entry)
		}
	}

	return out
}
