// Package notify turns job lifecycle events into operator messages.
package notify

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"xposter/internal/eventbus"
	logx "xposter/pkg/logx"
)

// Sender delivers one text message.
type Sender interface {
	Send(ctx context.Context, text string) error
}

type Config struct {
	// OnSuccess also reports sent jobs. Failures and scan errors are always reported.
	OnSuccess bool
	// RatePerSec caps outgoing messages. Default 1.
	RatePerSec float64
	Burst      int
	RetryMax   uint64
	RetryBase  time.Duration
}

// Notifier consumes bus events and forwards the interesting ones to a Sender.
type Notifier struct {
	cfg     Config
	sender  Sender
	bus     eventbus.Bus
	log     logx.Logger
	limiter *rate.Limiter
}

func New(cfg Config, sender Sender, bus eventbus.Bus, log logx.Logger) *Notifier {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 3
	}
	if cfg.RetryMax == 0 {
		cfg.RetryMax = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		cfg:     cfg,
		sender:  sender,
		bus:     bus,
		log:     log.With(logx.String("comp", "notify")),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
	}
}

// Run subscribes to the bus and blocks until ctx is done.
func (n *Notifier) Run(ctx context.Context) error {
	ch, unsubscribe := n.bus.Subscribe(64)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			text, ok := n.Format(e)
			if !ok {
				continue
			}
			if err := n.deliver(ctx, text); err != nil && ctx.Err() == nil {
				n.log.Warn("notify.failed", logx.String("kind", string(e.Kind)), logx.String("ref", e.Ref), logx.Err(err))
			}
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, text string) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = n.cfg.RetryBase
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return backoff.Retry(func() error {
		err := n.sender.Send(ctx, text)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, n.cfg.RetryMax), ctx))
}

// Format renders an event. The bool is false for events that are not reported.
func (n *Notifier) Format(e eventbus.Event) (string, bool) {
	name := e.JobID
	if name == "" {
		name = e.Ref
	}
	var b strings.Builder
	switch e.Kind {
	case eventbus.JobSent:
		if !n.cfg.OnSuccess {
			return "", false
		}
		fmt.Fprintf(&b, "✅ posted %s", name)
		if e.TweetID != "" {
			fmt.Fprintf(&b, "\ntweet: %s", e.TweetID)
		}
	case eventbus.JobFailed:
		fmt.Fprintf(&b, "❌ failed %s", name)
		if e.Err != "" {
			fmt.Fprintf(&b, "\n%s", e.Err)
		}
		if e.Dest != "" {
			fmt.Fprintf(&b, "\nmoved to %s", path.Base(e.Dest))
		}
	case eventbus.ScanError:
		fmt.Fprintf(&b, "⚠️ queue entry %s needs attention", e.Ref)
		if e.Err != "" {
			fmt.Fprintf(&b, "\n%s", e.Err)
		}
	default:
		return "", false
	}
	if e.Slot != "" {
		fmt.Fprintf(&b, "\nslot: %s", e.Slot)
	}
	return b.String(), true
}
