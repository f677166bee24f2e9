package routes

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/agentsquads/fleet/orchestrator"
)

// Deps carries everything the tenant routes need. Monitor may be nil when
// fleet monitoring is disabled.
type Deps struct {
	Orch          *orchestrator.Orchestrator
	Monitor       *orchestrator.Monitor
	ServiceAPIKey string
	JWTSecret     string
}

type migrateRequest struct {
	orchestrator.TenantConfig
	SourceAppUUID    string `json:"source_app_uuid"`
	TargetServerUUID string `json:"target_server_uuid"`
}

type tenantStatusResponse struct {
	TenantID  string `json:"tenant_id"`
	AppUUID   string `json:"app_uuid"`
	Name      string `json:"name"`
	FQDN      string `json:"fqdn"`
	Status    string `json:"status"`
	RawStatus string `json:"raw_status"`
}

// MountTenantRoutes registers tenant lifecycle routes.
func MountTenantRoutes(mux *http.ServeMux, d Deps) {
	log := slog.Default().With("component", "routes")

	mux.HandleFunc("POST /api/tenants/{id}/provision", func(w http.ResponseWriter, r *http.Request) {
		if d.Orch == nil {
			writeAPIError(w, http.StatusServiceUnavailable, "orchestrator is not configured")
			return
		}

		tenantID := strings.TrimSpace(r.PathValue("id"))
		if tenantID == "" {
			writeAPIError(w, http.StatusBadRequest, "missing tenant id")
			return
		}

		var tenant orchestrator.TenantConfig
		if err := decodeJSONStrict(r, &tenant); err != nil {
			writeAPIError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		tenant.TenantID = tenantID
		if strings.TrimSpace(tenant.Subdomain) == "" {
			writeAPIError(w, http.StatusBadRequest, "missing subdomain")
			return
		}

		if existing, err := findTenantApp(r.Context(), d.Orch, tenantID); err == nil && existing.AppUUID != "" {
			writeAPIError(w, http.StatusConflict, "tenant is already provisioned")
			return
		}

		// Provisioning plus the health wait can run for minutes, so it is
		// detached from the request. Outcomes land in the journal and are
		// observable through the status route.
		go func() {
			ctx := context.Background()
			res, err := d.Orch.Provision(ctx, tenant)
			if err != nil {
				log.Error("provision failed", "tenant", tenantID, "err", err)
				return
			}
			if err := d.Orch.VerifyTenant(ctx, tenantID, res.URL); err != nil {
				log.Error("tenant verification failed", "tenant", tenantID, "err", err)
			}
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{
			"tenant_id": tenantID,
			"status":    "provisioning",
			"url":       d.Orch.TenantURL(tenant.Subdomain),
		})
	})

	mux.HandleFunc("DELETE /api/tenants/{id}", func(w http.ResponseWriter, r *http.Request) {
		if d.Orch == nil {
			writeAPIError(w, http.StatusServiceUnavailable, "orchestrator is not configured")
			return
		}

		tenantID := strings.TrimSpace(r.PathValue("id"))
		if tenantID == "" {
			writeAPIError(w, http.StatusBadRequest, "missing tenant id")
			return
		}

		appUUID := strings.TrimSpace(r.URL.Query().Get("app_uuid"))
		if appUUID == "" {
			status, err := findTenantApp(r.Context(), d.Orch, tenantID)
			if err != nil {
				writeAPIError(w, statusFromError(err), err.Error())
				return
			}
			appUUID = status.AppUUID
		}

		res, err := d.Orch.Deprovision(r.Context(), tenantID, appUUID)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, res)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	mux.HandleFunc("POST /api/tenants/{id}/migrate", func(w http.ResponseWriter, r *http.Request) {
		if d.Orch == nil {
			writeAPIError(w, http.StatusServiceUnavailable, "orchestrator is not configured")
			return
		}
		if !isAdminRequest(r, d.ServiceAPIKey, d.JWTSecret) {
			writeAPIError(w, http.StatusForbidden, "admin access required")
			return
		}

		tenantID := strings.TrimSpace(r.PathValue("id"))
		if tenantID == "" {
			writeAPIError(w, http.StatusBadRequest, "missing tenant id")
			return
		}

		var req migrateRequest
		if err := decodeJSONStrict(r, &req); err != nil {
			writeAPIError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		req.TenantConfig.TenantID = tenantID
		if strings.TrimSpace(req.TargetServerUUID) == "" {
			writeAPIError(w, http.StatusBadRequest, "missing target_server_uuid")
			return
		}

		sourceUUID := strings.TrimSpace(req.SourceAppUUID)
		if sourceUUID == "" {
			status, err := findTenantApp(r.Context(), d.Orch, tenantID)
			if err != nil {
				writeAPIError(w, statusFromError(err), err.Error())
				return
			}
			sourceUUID = status.AppUUID
		}

		res, err := d.Orch.Migrate(r.Context(), req.TenantConfig, sourceUUID, req.TargetServerUUID)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, res)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	mux.HandleFunc("GET /api/tenants/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		if d.Orch == nil {
			writeAPIError(w, http.StatusServiceUnavailable, "orchestrator is not configured")
			return
		}

		tenantID := strings.TrimSpace(r.PathValue("id"))
		if tenantID == "" {
			writeAPIError(w, http.StatusBadRequest, "missing tenant id")
			return
		}

		status, err := findTenantApp(r.Context(), d.Orch, tenantID)
		if err != nil {
			writeAPIError(w, statusFromError(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, status)
	})

	mux.HandleFunc("GET /api/tenants", func(w http.ResponseWriter, r *http.Request) {
		if d.Orch == nil {
			writeAPIError(w, http.StatusServiceUnavailable, "orchestrator is not configured")
			return
		}
		if !isAdminRequest(r, d.ServiceAPIKey, d.JWTSecret) {
			writeAPIError(w, http.StatusForbidden, "admin access required")
			return
		}

		apps, err := d.Orch.ControlPlane().ListApplications(r.Context())
		if err != nil {
			writeAPIError(w, http.StatusInternalServerError, "failed to list tenants")
			return
		}

		tenants := make([]tenantStatusResponse, 0, len(apps))
		for _, app := range apps {
			if !orchestrator.IsManagedName(app.Name) {
				continue
			}
			tenants = append(tenants, tenantStatusResponse{
				TenantID:  orchestrator.TenantIDFromName(app.Name),
				AppUUID:   app.UUID,
				Name:      app.Name,
				FQDN:      app.FQDN,
				Status:    orchestrator.NormalizeState(app.Status),
				RawStatus: app.Status,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"tenants": tenants})
	})

	mux.HandleFunc("GET /api/fleet/health", func(w http.ResponseWriter, r *http.Request) {
		if d.Monitor == nil {
			writeAPIError(w, http.StatusServiceUnavailable, "fleet monitor is not configured")
			return
		}

		report, err := d.Monitor.Check(r.Context())
		if err != nil {
			writeAPIError(w, http.StatusInternalServerError, "fleet health check failed")
			return
		}
		writeJSON(w, http.StatusOK, report)
	})
}

// findTenantApp resolves a tenant to its application by the deterministic
// managed name.
func findTenantApp(ctx context.Context, orch *orchestrator.Orchestrator, tenantID string) (tenantStatusResponse, error) {
	apps, err := orch.ControlPlane().ListApplications(ctx)
	if err != nil {
		return tenantStatusResponse{}, err
	}

	want := orchestrator.AppName(tenantID)
	for _, app := range apps {
		if app.Name != want {
			continue
		}
		return tenantStatusResponse{
			TenantID:  tenantID,
			AppUUID:   app.UUID,
			Name:      app.Name,
			FQDN:      app.FQDN,
			Status:    orchestrator.NormalizeState(app.Status),
			RawStatus: app.Status,
		}, nil
	}
	return tenantStatusResponse{}, errors.New("tenant not found")
}

func isAdminRequest(r *http.Request, serviceAPIKey, jwtSecret string) bool {
	if serviceAPIKey != "" {
		incomingKey := strings.TrimSpace(r.Header.Get("X-Service-API-Key"))
		if incomingKey != "" && subtle.ConstantTimeCompare([]byte(incomingKey), []byte(serviceAPIKey)) == 1 {
			return true
		}
	}

	if jwtSecret == "" {
		return false
	}
	raw := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer"))
	if raw == "" {
		return false
	}

	token, err := jwt.Parse(raw, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return false
	}
	if isAdmin, ok := claims["isAdmin"].(bool); ok {
		return isAdmin
	}
	if isAdmin, ok := claims["is_admin"].(bool); ok {
		return isAdmin
	}
	return false
}

func statusFromError(err error) int {
	if err == nil {
		return http.StatusOK
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not found"):
		return http.StatusNotFound
	case strings.Contains(msg, "required") || strings.Contains(msg, "missing"):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
