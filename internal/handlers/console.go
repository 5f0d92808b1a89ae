package handlers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/pgsm/console-bridge/internal/config"
	"github.com/pgsm/console-bridge/internal/console"
	"github.com/pgsm/console-bridge/internal/protocol"
	"github.com/pgsm/console-bridge/internal/sshproxy"
)

var (
	Consoles *console.Registry
	SSHMgr   *sshproxy.SSHManager
)

const (
	// consoleReadLimit caps a single inbound WebSocket frame.
	consoleReadLimit = 1024 * 1024
	// consoleWriteTimeout bounds a single outbound frame write.
	consoleWriteTimeout = 10 * time.Second

	closeSlowConsumer websocket.StatusCode = 4008
	closeUnavailable  websocket.StatusCode = 4500
)

// wsEmitter writes outbound console frames as JSON text messages.
type wsEmitter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (e *wsEmitter) Emit(ctx context.Context, msg protocol.Outbound) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, consoleWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, e.conn, msg)
}

func inputLimiter() *rate.Limiter {
	limit := rate.Limit(config.Cfg.ConsoleInputRate)
	if config.Cfg.ConsoleInputRate <= 0 {
		limit = rate.Inf
	}
	burst := config.Cfg.ConsoleInputBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(limit, burst)
}

// ConsoleWS handles GET /api/v1/console. Each connection is one viewer; the
// socket's lifetime is the viewer's connect/disconnect.
func ConsoleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[console] failed to accept websocket: %v", err)
		return
	}
	if Consoles == nil {
		conn.Close(closeUnavailable, "Console registry not initialized")
		return
	}
	conn.SetReadLimit(consoleReadLimit)

	ctx := r.Context()
	connID := uuid.NewString()
	var slow atomic.Bool
	gw := console.NewGateway(Consoles, &wsEmitter{conn: conn}, console.GatewayOptions{
		ConnID: connID,
		OnSlowConsumer: func() {
			slow.Store(true)
			// Close runs the close handshake; the read loop below then ends.
			go conn.Close(closeSlowConsumer, "Console output buffer overflow")
		},
	})
	limiter := inputLimiter()

	log.Printf("[console] viewer %s connected from %s", connID, r.RemoteAddr)

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		if msgType != websocket.MessageText {
			gw.ReportError(ctx, "", fmt.Errorf("%w: binary frames are not supported", protocol.ErrBadRequest))
			continue
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			gw.ReportError(ctx, "", err)
			continue
		}
		// Drop input beyond the allowed rate.
		if msg.EventName() == protocol.EventConsoleInput && !limiter.Allow() {
			log.Printf("[console] viewer %s: input rate limit exceeded, dropping event", connID)
			continue
		}
		if err := gw.Handle(ctx, msg); err != nil {
			gw.ReportError(ctx, msg.Server(), err)
		}
	}

	gw.Close()
	log.Printf("[console] viewer %s disconnected", connID)

	if !slow.Load() {
		conn.Close(websocket.StatusNormalClosure, "")
	}
}
