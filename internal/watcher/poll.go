package watcher

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	logx "xposter/pkg/logx"
)

// Poll triggers an undebounced rescan every interval until ctx is done. It
// replaces the Listener when filesystem notifications are unavailable.
func Poll(ctx context.Context, every time.Duration, rescan func(), log logx.Logger) error {
	if every <= 0 {
		every = DefaultPollInterval
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := cron.New()
	if _, err := c.AddFunc("@every "+every.String(), rescan); err != nil {
		return err
	}
	c.Start()
	log.Info("poll.started", logx.String("comp", "watcher.poll"), logx.Duration("every", every))

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
