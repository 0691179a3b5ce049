package server

import (
	"context"
	"log"
	"time"

	"github.com/RadYio/messenger/internal/store"
)

// RunMetrics logs store counts every interval until ctx is canceled.
// Grounded on the teacher's RunMetrics in server/metrics.go (same
// ticker-plus-select shape, logged via the standard logger).
func RunMetrics(ctx context.Context, st *store.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			users, messages, uptime := st.Stats()
			log.Printf("[metrics] users=%d messages=%d uptime=%s", users, messages, uptime.Round(time.Second))
		}
	}
}
