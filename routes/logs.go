package routes

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentsquads/fleet/orchestrator"
)

const (
	logWriteWait    = 10 * time.Second
	logPollInterval = 2 * time.Second
	logTailLines    = 200
)

var logUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     checkWebSocketOrigin,
}

// allowedWSOrigins is set once at mount time from configuration.
var allowedWSOrigins []string

func checkWebSocketOrigin(r *http.Request) bool {
	originHeader := strings.TrimSpace(r.Header.Get("Origin"))
	if originHeader == "" {
		return false
	}

	originURL, err := url.Parse(originHeader)
	if err != nil {
		return false
	}

	for _, allowed := range allowedWSOrigins {
		if allowed == "" {
			continue
		}
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if strings.EqualFold(originURL.Host, allowedURL.Host) && originURL.Scheme == allowedURL.Scheme {
			return true
		}
	}

	return false
}

// MountLogRoutes registers the tenant log stream. The socket polls the
// control plane and pushes only output that appeared since the last poll.
// Expected route: GET /api/tenants/{id}/logs
func MountLogRoutes(mux *http.ServeMux, d Deps, origins []string) {
	allowedWSOrigins = origins

	mux.HandleFunc("GET /api/tenants/{id}/logs", func(w http.ResponseWriter, r *http.Request) {
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

		tail := logTailLines
		if v := r.URL.Query().Get("lines"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				tail = n
			}
		}

		log := slog.Default().With("component", "logs", "tenant", tenantID)

		conn, err := logUpgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error("websocket upgrade failed", "err", err)
			return
		}
		defer conn.Close()

		streamLogs(r.Context(), conn, d.Orch.ControlPlane(), status.AppUUID, tail, log)
	})
}

func streamLogs(ctx context.Context, conn *websocket.Conn, cp orchestrator.ControlPlane, appUUID string, tail int, log *slog.Logger) {
	// Drain client frames so close messages are noticed.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(logPollInterval)
	defer ticker.Stop()

	var lastSent string
	for {
		logs, err := cp.ApplicationLogs(ctx, appUUID, tail)
		if err != nil {
			log.Warn("log fetch failed", "err", err)
		} else if chunk := newLogContent(lastSent, logs); chunk != "" {
			conn.SetWriteDeadline(time.Now().Add(logWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(chunk)); err != nil {
				return
			}
			lastSent = logs
		}

		select {
		case <-clientGone:
			return
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(logWriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-ticker.C:
		}
	}
}

// newLogContent returns the part of cur not already covered by prev. When
// the tail window rolled past prev entirely the whole window is returned.
func newLogContent(prev, cur string) string {
	if cur == prev {
		return ""
	}
	if prev != "" {
		if idx := strings.Index(cur, prev); idx >= 0 {
			return cur[idx+len(prev):]
		}
	}
	return cur
}
