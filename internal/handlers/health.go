package handlers

import (
	"net/http"

	"github.com/pgsm/console-bridge/internal/database"
)

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disconnected"
	if database.DB != nil {
		sqlDB, err := database.DB.DB()
		if err == nil {
			if err := sqlDB.Ping(); err == nil {
				dbStatus = "connected"
			}
		}
	}

	sessions := 0
	if Consoles != nil {
		sessions = Consoles.Len()
	}
	sshConns := 0
	if SSHMgr != nil {
		sshConns = len(SSHMgr.Connected())
	}

	status := "healthy"
	if dbStatus != "connected" {
		status = "unhealthy"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           status,
		"database":         dbStatus,
		"console_sessions": sessions,
		"ssh_connections":  sshConns,
	})
}
