package probe

import (
	"context"

	"github.com/mescon/repeatd/internal/logger"
)

// HeartbeatProber always succeeds. It is useful for checking the scheduler itself.
type HeartbeatProber struct{}

func (HeartbeatProber) Probe(ctx context.Context, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logger.Debugf("Heartbeat: %s", target)
	return nil
}
