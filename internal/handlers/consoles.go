package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pgsm/console-bridge/internal/console"
	"github.com/pgsm/console-bridge/internal/logging"
)

// ListConsoles handles GET /api/v1/consoles.
func ListConsoles(w http.ResponseWriter, r *http.Request) {
	if Consoles == nil {
		writeJSON(w, http.StatusOK, []console.SessionInfo{})
		return
	}
	writeJSON(w, http.StatusOK, Consoles.List())
}

// StopConsole handles DELETE /api/v1/consoles/{serverID}. Attached viewers
// receive console_closed.
func StopConsole(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "serverID")
	if Consoles == nil {
		writeError(w, http.StatusServiceUnavailable, "Console registry not initialized")
		return
	}

	if err := Consoles.Stop(serverID); err != nil {
		if errors.Is(err, console.ErrNoSession) {
			writeError(w, http.StatusNotFound, "No live console session for this server")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to stop console session")
		return
	}
	log.Printf("[console] session for server %s stopped via API", logging.Sanitize(serverID))
	w.WriteHeader(http.StatusNoContent)
}
