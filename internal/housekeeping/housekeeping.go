// Package housekeeping runs periodic cleanup of console sessions and the SSH
// connections behind them.
package housekeeping

import (
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

// Sessions is the part of the console registry housekeeping needs.
type Sessions interface {
	Sweep() int
	InUse(serverID string) bool
}

// Connections is the part of the SSH manager housekeeping needs.
type Connections interface {
	PruneIdle(inUse func(serverID string) bool) int
}

// RunOnce drops closed sessions still registered, then closes SSH
// connections of servers with neither a live session nor a shell being
// opened.
func RunOnce(sessions Sessions, conns Connections) (swept, pruned int) {
	swept = sessions.Sweep()
	pruned = conns.PruneIdle(sessions.InUse)
	if swept > 0 || pruned > 0 {
		log.Printf("[housekeeping] swept %d closed sessions, closed %d idle ssh connections", swept, pruned)
	}
	return swept, pruned
}

// Start schedules RunOnce on schedule (standard cron syntax or descriptors
// such as "@every 1m"). Stop the returned scheduler at shutdown.
func Start(schedule string, sessions Sessions, conns Connections) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { RunOnce(sessions, conns) }); err != nil {
		return nil, fmt.Errorf("schedule housekeeping %q: %w", schedule, err)
	}
	c.Start()
	log.Printf("[housekeeping] scheduled %q", schedule)
	return c, nil
}
