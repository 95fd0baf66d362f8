package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jholhewres/relaybot/pkg/relaybot/channels"
)

// HeartbeatJobName is the name the heartbeat job is registered under.
const HeartbeatJobName = "heartbeat"

// Heartbeat returns a job that logs channel health on every tick. It fails
// when any registered channel is disconnected so the failure shows up in the
// job's LastError.
func Heartbeat(schedule string, health func() map[string]channels.HealthStatus, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "heartbeat")

	return &Job{
		Name:     HeartbeatJobName,
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			statuses := health()

			names := make([]string, 0, len(statuses))
			for name := range statuses {
				names = append(names, name)
			}
			sort.Strings(names)

			var down []string
			for _, name := range names {
				st := statuses[name]
				logger.Info("channel health",
					"channel", name,
					"connected", st.Connected,
					"errors", st.ErrorCount,
					"last_message_at", st.LastMessageAt,
				)
				if !st.Connected {
					down = append(down, name)
				}
			}

			if len(down) > 0 {
				return fmt.Errorf("channels disconnected: %s", strings.Join(down, ", "))
			}
			return nil
		},
	}
}
