// Package bot turns chat messages into engine operations and reports
// lifecycle events back to task owners.
package bot

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"cuebot/internal/engine"
	"cuebot/internal/eventbus"
	"cuebot/internal/schedule"
	kit "cuebot/internal/transport"
	logx "cuebot/pkg/logx"
)

type Config struct {
	// OwnerUserIDs is the allowlist of users the bot answers to.
	// Empty means the bot answers everyone (useful for local testing only).
	OwnerUserIDs []int64

	// FallbackEnabled gates the agent-backed second parse attempt.
	FallbackEnabled bool
	// FallbackTimeout bounds one fallback call. Zero means 15s.
	FallbackTimeout time.Duration
}

type Router struct {
	eng      *engine.Service
	adapter  kit.Adapter
	fallback schedule.Fallback // may be nil
	bus      eventbus.Bus
	log      logx.Logger

	mu  sync.RWMutex
	cfg Config
}

func New(cfg Config, eng *engine.Service, adapter kit.Adapter, fallback schedule.Fallback, bus eventbus.Bus, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		eng:      eng,
		adapter:  adapter,
		fallback: fallback,
		bus:      bus,
		log:      log,
		cfg:      cfg,
	}
}

// Apply updates the allowlist and fallback knobs at runtime.
func (r *Router) Apply(cfg Config) {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

func (r *Router) config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Run consumes updates until ctx is done. Messages are handled by a small
// bounded worker pool so one slow engine call doesn't stall the poll loop.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}
	jobs := make(chan kit.Message, 64)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					r.log.Error("panic in message worker", logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
				}
			}()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-jobs:
					if !ok {
						return
					}
					r.handleMessage(ctx, msg)
				}
			}
		}()
	}
	defer func() {
		close(jobs)
		wg.Wait()
		r.log.Info("router stopped")
	}()

	r.log.Info("router started", logx.Int("workers", workers))
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Message == nil {
				continue
			}
			select {
			case jobs <- *up.Message:
			default:
				r.log.Warn("message dropped (worker queue full)", logx.Int64("chat_id", up.Message.ChatID))
			}
		}
	}
}

// EventLoop surfaces engine lifecycle events to owners: a permanent failure
// is something the user asked for and silently losing it would be worse than
// a little noise.
func (r *Router) EventLoop(ctx context.Context) error {
	if r.bus == nil {
		<-ctx.Done()
		return nil
	}
	ch, unsub := r.bus.Subscribe(32)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if ev.Type != engine.EventFailed {
				continue
			}
			data, ok := ev.Data.(engine.EventData)
			if !ok {
				continue
			}
			chatID, err := strconv.ParseInt(data.OwnerID, 10, 64)
			if err != nil || chatID == 0 {
				continue
			}
			text := "Task run failed: " + data.Action
			if data.Error != "" {
				text += "\n" + data.Error
			}
			if _, err := r.adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, nil); err != nil {
				r.log.Debug("failure notice not delivered", logx.String("task_id", data.TaskID), logx.Err(err))
			}
		}
	}
}

func (r *Router) allowed(userID int64) bool {
	cfg := r.config()
	if len(cfg.OwnerUserIDs) == 0 {
		return true
	}
	for _, id := range cfg.OwnerUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (r *Router) reply(ctx context.Context, msg kit.Message, text string) {
	if _, err := r.adapter.SendText(ctx, kit.ChatTarget{ChatID: msg.ChatID}, text, &kit.SendOptions{DisablePreview: true}); err != nil {
		r.log.Debug("reply failed", logx.Int64("chat_id", msg.ChatID), logx.Err(err))
	}
}
