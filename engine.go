// Copyright 2024-2025 Bookline, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package coverart

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bookline/coverart/denylist"
	"github.com/bookline/coverart/internal"
	"github.com/bookline/coverart/outcome"
	"github.com/bookline/coverart/probe"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultProbeTimeout bounds a single candidate probe if no
	// WithProbeTimeout option is given. It is generous enough to
	// tolerate slow mobile networks while still bounding the total
	// worst-case latency across a whole chain.
	DefaultProbeTimeout = 25 * time.Second

	// DefaultPlaceholder is the location committed when every candidate
	// is filtered out or exhausted, if no WithPlaceholder option is
	// given. Applications normally map it to a bundled asset.
	DefaultPlaceholder = "asset:cover-placeholder"

	// warmConcurrency bounds how many chains Warm drives at once.
	warmConcurrency = 4
)

// Option is an option used to customize the behavior of an Engine.
type Option interface {
	apply(*engineOptions)
}

type optionFunc func(*engineOptions)

func (f optionFunc) apply(opts *engineOptions) {
	f(opts)
}

type engineOptions struct {
	rootCtx      context.Context //nolint:containedctx
	probeTimeout time.Duration
	successTTL   time.Duration
	failureTTL   time.Duration
	outcomes     *outcome.Cache
	prober       probe.Prober
	denyList     denylist.DenyList
	mapLocation  func(string) string
	placeholder  string
}

func (opts *engineOptions) applyDefaults(clock internal.Clock) {
	if opts.rootCtx == nil {
		opts.rootCtx = context.Background()
	}
	if opts.probeTimeout == 0 {
		opts.probeTimeout = DefaultProbeTimeout
	}
	if opts.outcomes == nil {
		opts.outcomes = outcome.NewCache(
			outcome.WithSuccessTTL(opts.successTTL),
			outcome.WithFailureTTL(opts.failureTTL),
			outcome.WithClock(clock),
		)
	}
	if opts.prober == nil {
		opts.prober = probe.NewHTTPProber()
	}
	if opts.denyList == nil {
		opts.denyList = denylist.Nop
	}
	if opts.mapLocation == nil {
		opts.mapLocation = func(location string) string { return location }
	}
	if opts.placeholder == "" {
		opts.placeholder = DefaultPlaceholder
	}
}

// WithRootContext configures the root context used for any background
// goroutines the engine creates. If not specified, [context.Background]
// is used. It should only be cancelled after the engine is no longer in
// use, and may be used to eagerly free any associated resources.
func WithRootContext(ctx context.Context) Option {
	return optionFunc(func(opts *engineOptions) {
		opts.rootCtx = ctx
	})
}

// WithProbeTimeout bounds how long a single candidate probe may take
// before the chain advances past it. A timed-out probe is inconclusive:
// no outcome is recorded and the candidate will be re-tried on the next
// fresh resolution. If zero or no WithProbeTimeout option is used,
// DefaultProbeTimeout applies.
func WithProbeTimeout(timeout time.Duration) Option {
	return optionFunc(func(opts *engineOptions) {
		opts.probeTimeout = timeout
	})
}

// WithSuccessTTL configures how long a recorded success is trusted.
// Ignored when WithOutcomeCache is also used.
func WithSuccessTTL(ttl time.Duration) Option {
	return optionFunc(func(opts *engineOptions) {
		opts.successTTL = ttl
	})
}

// WithFailureTTL configures how long a recorded failure is trusted.
// Failures are trusted for much less time than successes since many of
// them (rate limits, transient outages) resolve themselves within
// hours. Ignored when WithOutcomeCache is also used.
func WithFailureTTL(ttl time.Duration) Option {
	return optionFunc(func(opts *engineOptions) {
		opts.failureTTL = ttl
	})
}

// WithOutcomeCache injects an existing outcome cache instead of letting
// the engine construct its own. Use this to share one cache between
// several engines; sharing is an explicit wiring decision, not ambient
// state.
func WithOutcomeCache(cache *outcome.Cache) Option {
	return optionFunc(func(opts *engineOptions) {
		opts.outcomes = cache
	})
}

// WithProber configures the network probe used to test candidate
// locations. If no WithProber option is used, [probe.NewHTTPProber]
// with default options is used.
func WithProber(prober probe.Prober) Option {
	return optionFunc(func(opts *engineOptions) {
		opts.prober = prober
	})
}

// WithDenyList configures the deny list consulted when building
// candidate lists and when re-checking a probe's final, possibly
// redirected, location. If no WithDenyList option is used, nothing is
// denied.
func WithDenyList(list denylist.DenyList) Option {
	return optionFunc(func(opts *engineOptions) {
		opts.denyList = list
	})
}

// WithLocationMapper configures a function that converts a non-absolute
// logical storage path into a fetchable location. It is applied to the
// override and to every alternate before candidate-list construction
// and must be pure. If no WithLocationMapper option is used, locations
// are taken as-is.
func WithLocationMapper(mapLocation func(location string) string) Option {
	return optionFunc(func(opts *engineOptions) {
		opts.mapLocation = mapLocation
	})
}

// WithPlaceholder configures the location of the terminal placeholder
// candidate. If empty or no WithPlaceholder option is used,
// DefaultPlaceholder applies.
func WithPlaceholder(location string) Option {
	return optionFunc(func(opts *engineOptions) {
		opts.placeholder = location
	})
}

// Engine resolves cover locations. It holds the state shared by all
// watchers: the outcome cache, the prober, and the deny list. An Engine
// must be created with NewEngine and released with Close; it must not
// be used after Close returns.
type Engine struct {
	ctx          context.Context //nolint:containedctx
	cancel       context.CancelFunc
	outcomes     *outcome.Cache
	prober       probe.Prober
	denyList     denylist.DenyList
	mapLocation  func(string) string
	placeholder  string
	probeTimeout time.Duration
	clock        internal.Clock
	chains       sync.WaitGroup
}

// NewEngine returns a new resolution engine that uses the given options.
func NewEngine(options ...Option) *Engine {
	return newEngine(internal.NewRealClock(), options...)
}

func newEngine(clock internal.Clock, options ...Option) *Engine {
	var opts engineOptions
	for _, opt := range options {
		opt.apply(&opts)
	}
	opts.applyDefaults(clock)
	ctx, cancel := context.WithCancel(opts.rootCtx)
	return &Engine{
		ctx:          ctx,
		cancel:       cancel,
		outcomes:     opts.outcomes,
		prober:       opts.prober,
		denyList:     opts.denyList,
		mapLocation:  opts.mapLocation,
		placeholder:  opts.placeholder,
		probeTimeout: opts.probeTimeout,
		clock:        clock,
	}
}

// Close releases the engine, cancelling all in-flight probing and
// waiting for the associated goroutines to stop. Watchers created from
// the engine stop committing results once Close is called.
func (e *Engine) Close() error {
	e.cancel()
	e.chains.Wait()
	return nil
}

// Resolve drives one full resolution chain synchronously and returns
// the committed candidate, which is the placeholder if no candidate is
// reachable or the context is cancelled. It never returns an error:
// probe failures are internal bookkeeping only. The call is bounded by
// (number of candidates) times the probe timeout.
//
// Most consumers want a [Watcher] instead; Resolve is for single-shot
// uses such as server-side rendering of a one-off page.
func (e *Engine) Resolve(ctx context.Context, req Request) Candidate {
	for _, candidate := range e.buildCandidates(req) {
		if candidate.Kind == KindPlaceholder {
			// The placeholder settles as an immediate success with no
			// network probe.
			return candidate
		}
		finalLocation, result := e.probeOnce(ctx, candidate.Location)
		switch result {
		case probeSucceeded:
			// The committed location may differ from the requested one
			// if the probe was redirected.
			candidate.Location = finalLocation
			return candidate
		case probeCancelled:
			return e.placeholderCandidate()
		case probeFailed, probeTimedOut:
			// Advance to the next candidate.
		}
	}
	return e.placeholderCandidate()
}

// Warm pre-resolves the given requests with bounded concurrency,
// populating the outcome cache so that subsequent watchers commit
// quickly. Results are discarded. It returns the first context error
// encountered, if any; probe failures are never errors.
func (e *Engine) Warm(ctx context.Context, requests ...Request) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(warmConcurrency)
	for _, req := range requests {
		req := req
		group.Go(func() error {
			e.Resolve(groupCtx, req)
			return groupCtx.Err()
		})
	}
	return group.Wait()
}

type probeResult int

const (
	probeSucceeded probeResult = iota
	probeFailed
	probeTimedOut
	probeCancelled
)

// probeOnce settles a single candidate: exactly one of success,
// explicit failure, timeout, or cancellation. Explicit outcomes are
// recorded in the outcome cache; a timeout records nothing because it
// is inconclusive, whereas an explicit failure signal is conclusive.
// The probe is cancelled when the chain advances past it, so a late
// settlement can never be observed, let alone recorded.
func (e *Engine) probeOnce(ctx context.Context, location string) (string, probeResult) {
	if ctx.Err() != nil {
		return "", probeCancelled
	}
	probeCtx, cancelProbe := context.WithCancel(ctx)
	defer cancelProbe()

	type settlement struct {
		finalLocation string
		err           error
	}
	settled := make(chan settlement, 1)
	go func() {
		finalLocation, err := e.prober.Probe(probeCtx, location)
		settled <- settlement{finalLocation, err}
	}()

	timer := e.clock.NewTimer(e.probeTimeout)
	defer timer.Stop()

	select {
	case result := <-settled:
		if result.err != nil {
			if ctx.Err() != nil {
				return "", probeCancelled
			}
			if errors.Is(result.err, context.Canceled) || errors.Is(result.err, context.DeadlineExceeded) {
				// A probe cut short by a deadline of the prober's own is
				// as inconclusive as a timeout here.
				return "", probeTimedOut
			}
			e.outcomes.Record(location, false)
			return "", probeFailed
		}
		if e.denyList.IsDenied(result.finalLocation) {
			// The probe nominally succeeded but a redirect landed on a
			// denied host: demote to failure, never record a success.
			e.outcomes.Record(location, false)
			return "", probeFailed
		}
		e.outcomes.Record(location, true)
		return result.finalLocation, probeSucceeded
	case <-timer.Chan():
		// Inconclusive: the resource may be reachable and the network
		// merely slow. Record nothing so the candidate is re-tried on
		// the very next fresh resolution.
		return "", probeTimedOut
	case <-ctx.Done():
		return "", probeCancelled
	}
}
