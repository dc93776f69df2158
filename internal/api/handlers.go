// Package api provides HTTP handlers for Conversia endpoints.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/conversia/conversia/internal/models"
	"github.com/conversia/conversia/internal/util"
)

// sessionStartTimeout bounds one detached session bring-up.
const sessionStartTimeout = 60 * time.Second

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	tenants, err := s.tenants.ListTenants()
	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	statusCode := http.StatusOK
	if err != nil {
		slog.Warn("Health check: failed to list tenants", "error", err)
		healthData["status"] = "degraded"
		healthData["error"] = "Failed to fetch tenant registry"
		statusCode = http.StatusServiceUnavailable
	} else {
		healthData["tenants"] = len(tenants)
	}
	writeJSONResponse(w, statusCode, healthData)
}

// connectHandler registers or updates a tenant from query parameters and
// brings its channel session up. Repeat calls that omit a URL keep the
// previously stored value.
func (s *Server) connectHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := util.SanitizeTenantID(r.URL.Query().Get("client_id"))
	cfg := models.TenantConfig{
		TenantID:      tenantID,
		SiteURL:       r.URL.Query().Get("wp_url"),
		FlowsEndpoint: r.URL.Query().Get("automations_endpoint"),
	}
	slog.Debug("Server.connectHandler: connect requested", "tenantID", tenantID,
		"site_url_set", cfg.SiteURL != "", "flows_endpoint_set", cfg.FlowsEndpoint != "")

	merged, err := s.tenants.UpsertTenant(cfg)
	if err != nil {
		slog.Error("Server.connectHandler: tenant upsert failed", "error", err, "tenantID", tenantID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to register tenant"))
		return
	}

	if s.twilio != nil {
		// Twilio needs no per-tenant session; the webhook route is live already.
		writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
			"client_id": merged.TenantID,
			"status":    string(models.ChannelStatusConnected),
		}))
		return
	}

	status := s.manager.Status(merged.TenantID)
	if status == models.ChannelStatusDisconnected {
		// Session bring-up outlives the request.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), sessionStartTimeout)
			defer cancel()
			if err := s.manager.StartSession(ctx, merged.TenantID); err != nil {
				slog.Error("Server.connectHandler: session start failed", "error", err, "tenantID", merged.TenantID)
			}
		}()
		writeJSONResponse(w, http.StatusAccepted, models.Starting(map[string]interface{}{
			"client_id": merged.TenantID,
			"status":    string(models.ChannelStatusDisconnected),
		}))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"client_id": merged.TenantID,
		"status":    string(status),
	}))
}

// statusHandler reports the tenant's channel session state
// (GET /wp-json/convers-ia/v1/status?client_id=).
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w, util.SanitizeTenantID(r.URL.Query().Get("client_id")))
}

// qrHandler returns the tenant's pending login QR code
// (GET /wp-json/convers-ia/v1/qr?client_id=).
func (s *Server) qrHandler(w http.ResponseWriter, r *http.Request) {
	s.writeQR(w, util.SanitizeTenantID(r.URL.Query().Get("client_id")))
}

// tenantStatusHandler reports session state (GET /v1/tenants/{tenantID}/status).
func (s *Server) tenantStatusHandler(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w, util.SanitizeTenantID(chi.URLParam(r, "tenantID")))
}

// tenantQRHandler returns the pending QR code (GET /v1/tenants/{tenantID}/qr).
func (s *Server) tenantQRHandler(w http.ResponseWriter, r *http.Request) {
	s.writeQR(w, util.SanitizeTenantID(chi.URLParam(r, "tenantID")))
}

// refreshHandler forces a flow reload (POST /v1/tenants/{tenantID}/flows/refresh).
func (s *Server) refreshHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := util.SanitizeTenantID(chi.URLParam(r, "tenantID"))
	slog.Debug("Server.refreshHandler: refresh requested", "tenantID", tenantID)

	err := s.loader.LoadFlows(r.Context(), tenantID)
	switch {
	case err == nil:
		writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
			"client_id": tenantID,
			"refreshed": true,
		}))
	case errors.Is(err, models.ErrTenantNotFound):
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown tenant"))
	case errors.Is(err, models.ErrNoFlowsEndpoint), errors.Is(err, models.ErrInvalidEndpoint):
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
	default:
		slog.Warn("Server.refreshHandler: refresh failed", "error", err, "tenantID", tenantID)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Flow refresh failed"))
	}
}

// writeStatus is shared by the legacy and versioned status endpoints.
func (s *Server) writeStatus(w http.ResponseWriter, tenantID string) {
	cfg, err := s.tenants.GetTenant(tenantID)
	if err != nil {
		slog.Error("Server.writeStatus: tenant lookup failed", "error", err, "tenantID", tenantID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read tenant"))
		return
	}
	if cfg == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown tenant"))
		return
	}
	status := models.ChannelStatusConnected
	if s.twilio == nil {
		status = s.manager.Status(tenantID)
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"client_id": tenantID,
		"status":    string(status),
	}))
}

// writeQR is shared by the legacy and versioned QR endpoints. The qr
// field is null once login completes, which the plugin polls for.
func (s *Server) writeQR(w http.ResponseWriter, tenantID string) {
	cfg, err := s.tenants.GetTenant(tenantID)
	if err != nil {
		slog.Error("Server.writeQR: tenant lookup failed", "error", err, "tenantID", tenantID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read tenant"))
		return
	}
	if cfg == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown tenant"))
		return
	}
	var qr interface{}
	if s.twilio == nil {
		if code := s.manager.QRCode(tenantID); code != "" {
			qr = code
		}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"client_id": tenantID,
		"qr":        qr,
	}))
}
