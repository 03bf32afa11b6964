// Package config defines the opaque configuration struct the core reads
// at startup and on hot reload. The core never parses files or
// environment variables itself (Non-goal preserved) — whatever runs
// cmd/orchestratord is responsible for producing a *Config from
// whatever source it chooses and handing it to Watcher.Set.
package config

import (
	"sync"
	"time"

	"github.com/relayhub/orchestratord/internal/auth"
	"github.com/relayhub/orchestratord/internal/codec"
	"github.com/relayhub/orchestratord/internal/federation"
	"github.com/relayhub/orchestratord/internal/health"
	"github.com/relayhub/orchestratord/internal/ratelimit"
)

// Config aggregates every component's plain config struct into the one
// opaque value the caller decodes and hands to the core.
type Config struct {
	Codec       codec.Config
	Auth        auth.Config
	RateLimit   ratelimit.Config
	Health      health.Config
	Federation  federation.Config
	TraceSpanTTL time.Duration
}

// Default returns the baseline configuration every component already
// defines for itself, aggregated into one value.
func Default() Config {
	return Config{
		Codec:        codec.DefaultConfig(),
		Auth:         auth.Config{Mode: auth.ModeBoth, AllowLoopback: true},
		RateLimit:    ratelimit.DefaultConfig(),
		Health:       health.DefaultConfig(),
		Federation:   federation.DefaultConfig(),
		TraceSpanTTL: 5 * time.Minute,
	}
}

// Watcher holds the current Config and lets callers subscribe to hot
// reloads. It is the only mutable point of contact with configuration:
// every component below it receives a plain Config value it does not
// own, per SPEC_FULL.md's configuration section.
type Watcher struct {
	mu        sync.RWMutex
	current   Config
	listeners []chan<- Config
}

func NewWatcher(initial Config) *Watcher {
	return &Watcher{current: initial}
}

// Current returns the most recently applied configuration.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Subscribe registers ch to receive every future Set. The channel is
// never closed by Watcher; the caller owns its lifecycle.
func (w *Watcher) Subscribe(ch chan<- Config) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, ch)
}

// Set applies a new configuration and notifies every subscriber. A full
// channel drops the notification rather than blocking, since a
// component that can't keep up with reloads should not stall the ones
// that can.
func (w *Watcher) Set(cfg Config) {
	w.mu.Lock()
	w.current = cfg
	listeners := append([]chan<- Config(nil), w.listeners...)
	w.mu.Unlock()

	for _, ch := range listeners {
		select {
		case ch <- cfg:
		default:
		}
	}
}
