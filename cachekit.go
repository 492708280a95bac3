// Package cachekit assembles the caching middleware of the chat service: a
// Redis-backed cache-aside layer with stale-while-revalidate reads,
// distributed reload locks, a circuit breaker in front of the slow source,
// and Prometheus metrics.
//
// Most callers build a Layer once at startup and hand its Cache (untyped
// keys) or Profiles (entity-shaped) to the components that read through it.
// The sub-packages remain usable on their own for callers that want a
// different composition.
package cachekit

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/relaychat/cachekit/breaker"
	"github.com/relaychat/cachekit/cacheaside"
	"github.com/relaychat/cachekit/keys"
	"github.com/relaychat/cachekit/lock"
	"github.com/relaychat/cachekit/metrics"
	"github.com/relaychat/cachekit/profile"
	"github.com/relaychat/cachekit/store"
)

// sourceBreakerName labels the breaker guarding the backing source.
const sourceBreakerName = "source"

// Layer is the assembled cache middleware.
type Layer struct {
	// Store is the remote-store client.
	Store *store.Client
	// Keys builds and parses physical cache keys.
	Keys *keys.Strategy
	// Locks provides cross-process mutual exclusion.
	Locks *lock.Manager
	// Breaker guards loader calls to the backing source.
	Breaker *breaker.Breaker
	// Metrics records operation samples and serves the Prometheus text
	// endpoint.
	Metrics *metrics.Recorder
	// Cache is the cache-aside orchestrator.
	Cache *cacheaside.Cache
	// Profiles is the profile-shaped consumer.
	Profiles *profile.Service
}

// New builds the full cache layer and starts the metrics maintenance jobs.
// The remote store is pinged before anything else is wired; an unreachable
// store fails construction rather than the first read.
func New(ctx context.Context, cfg Config) (*Layer, error) {
	st, err := store.New(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("cachekit: store: %w", err)
	}

	ks, err := keys.New(cfg.Keys)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("cachekit: keys: %w", err)
	}

	locks := lock.NewManager(st.Redis(), cfg.Lock)
	br := breaker.New(sourceBreakerName, cfg.Breaker)

	rec := metrics.NewRecorder(cfg.Metrics)
	rec.SetBreakerStateFunc(br.StateGauge)
	rec.SetActiveLocksFunc(func() float64 {
		return float64(locks.ActiveCount())
	})
	if err := rec.Start(); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("cachekit: metrics: %w", err)
	}

	cache, err := cacheaside.New(cfg.Cache, cacheaside.Deps{
		Store:    st,
		Locks:    locks,
		Keys:     ks,
		Recorder: rec,
		Source:   br,
	})
	if err != nil {
		rec.Stop()
		_ = st.Close()
		return nil, fmt.Errorf("cachekit: cacheaside: %w", err)
	}

	profiles, err := profile.NewService(cache, ks)
	if err != nil {
		rec.Stop()
		_ = st.Close()
		return nil, fmt.Errorf("cachekit: profile: %w", err)
	}

	return &Layer{
		Store:    st,
		Keys:     ks,
		Locks:    locks,
		Breaker:  br,
		Metrics:  rec,
		Cache:    cache,
		Profiles: profiles,
	}, nil
}

// MetricsHandler serves the Prometheus exposition endpoint.
func (l *Layer) MetricsHandler() http.Handler {
	return l.Metrics.Handler()
}

// Close drains background refreshes, stops the metrics maintenance jobs, and
// closes the store connection.
func (l *Layer) Close() error {
	l.Cache.WaitBackground()
	l.Metrics.Stop()
	return l.Store.Close()
}

// SetLogger configures the logger for every sub-package at once. Each
// package tags its own component field.
func SetLogger(l *zerolog.Logger) {
	store.SetLogger(l)
	lock.SetLogger(l)
	breaker.SetLogger(l)
	metrics.SetLogger(l)
	cacheaside.SetLogger(l)
	profile.SetLogger(l)
}
