package handlers

import (
	"log"
	"net/http"

	"github.com/pgsm/console-bridge/internal/database"
)

type serverResponse struct {
	database.GameServer
	ConsoleActive bool `json:"console_active"`
	SSHConnected  bool `json:"ssh_connected"`
}

// ListServers handles GET /api/v1/servers.
func ListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := database.ListServers()
	if err != nil {
		log.Printf("[servers] list: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to list servers")
		return
	}

	resp := make([]serverResponse, 0, len(servers))
	for _, srv := range servers {
		item := serverResponse{GameServer: srv}
		if Consoles != nil {
			item.ConsoleActive = Consoles.HasLive(srv.ID)
		}
		if SSHMgr != nil {
			// Presence only; the keepalive loop drops dead connections.
			_, item.SSHConnected = SSHMgr.GetConnection(srv.ID)
		}
		resp = append(resp, item)
	}
	writeJSON(w, http.StatusOK, resp)
}
