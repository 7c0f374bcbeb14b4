// Package notify delivers outbound messages on behalf of scheduled tasks.
package notify

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	kit "cuebot/internal/transport"
	logx "cuebot/pkg/logx"
)

type Config struct {
	RatePerSec int
}

// Service sends notifications through the transport adapter, rate-limited so
// bursts of simultaneous task firings don't trip platform flood limits.
type Service struct {
	adapter kit.Adapter
	log     logx.Logger

	mu      sync.Mutex
	limiter *rate.Limiter
}

func New(adapter kit.Adapter, cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{adapter: adapter, log: log}
	s.Apply(cfg)
	return s
}

// Apply updates the rate limit at runtime.
func (n *Service) Apply(cfg Config) {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 3
	}
	n.mu.Lock()
	n.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	n.mu.Unlock()
}

func (n *Service) Notify(ctx context.Context, noti kit.Notification) error {
	if noti.Channel == "" {
		noti.Channel = "telegram"
	}
	if noti.Options == nil {
		noti.Options = &kit.SendOptions{DisablePreview: true}
	}

	n.mu.Lock()
	lim := n.limiter
	n.mu.Unlock()
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	}

	prefix := ""
	switch {
	case noti.Priority >= 8:
		prefix = "🚨 "
	case noti.Priority >= 5:
		prefix = "⚠️ "
	}
	_, err := n.adapter.SendText(ctx, noti.Target, prefix+noti.Text, noti.Options)
	if err != nil {
		n.log.Warn("notification send failed",
			logx.String("channel", noti.Channel),
			logx.Int64("chat_id", noti.Target.ChatID),
			logx.Err(err))
	} else {
		n.log.Debug("notification sent",
			logx.String("channel", noti.Channel),
			logx.Int64("chat_id", noti.Target.ChatID),
			logx.Int("priority", noti.Priority))
	}
	return err
}

// Send delivers a task notification to an opaque destination. It reports
// delivery success so the engine can count a failed send as a failed run.
//
// For the telegram channel the destination is a numeric chat id.
func (n *Service) Send(ctx context.Context, channel, destination, message string) error {
	if channel == "" {
		channel = "telegram"
	}
	if channel != "telegram" {
		return errors.New("notify: unknown channel " + channel)
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(destination), 10, 64)
	if err != nil || chatID == 0 {
		return errors.New("notify: invalid destination " + destination)
	}
	return n.Notify(ctx, kit.Notification{
		Channel: channel,
		Target:  kit.ChatTarget{ChatID: chatID},
		Text:    message,
	})
}
