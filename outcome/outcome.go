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

// Package outcome provides a process-wide cache of recent probe
// outcomes, keyed by location. Entries record whether the most recent
// probe of a location succeeded and expire purely by age: a confirmed
// success is trusted for a long time, while a confirmed failure is
// trusted only briefly, since many failures (rate limits, transient
// outages) resolve themselves within hours. An expired entry behaves
// exactly as if it were absent.
//
// The cache is the only state shared between concurrent resolution
// chains. Entries are idempotent point-in-time observations, so
// last-write-wins is the resolution for concurrent writes to the same
// location.
package outcome

import (
	"sync"
	"time"

	"github.com/bookline/coverart/internal"
)

const (
	// DefaultSuccessTTL is how long a success entry is trusted if no
	// WithSuccessTTL option is given.
	DefaultSuccessTTL = 7 * 24 * time.Hour

	// DefaultFailureTTL is how long a failure entry is trusted if no
	// WithFailureTTL option is given. It is much shorter than the
	// success TTL so that a location that failed once is re-tried
	// before long.
	DefaultFailureTTL = 12 * time.Hour
)

// Entry is a single recorded probe outcome for a location.
type Entry struct {
	// Succeeded indicates whether the probe reached the location.
	Succeeded bool

	// RecordedAt is the moment the outcome was observed.
	RecordedAt time.Time
}

// Cache stores recent probe outcomes keyed by location. It is safe for
// concurrent use by any number of resolution chains. The zero value is
// not usable; use NewCache.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]Entry
	successTTL time.Duration
	failureTTL time.Duration
	clock      internal.Clock
}

// Option is an option used to customize the behavior of a Cache created
// with NewCache.
type Option interface {
	apply(*Cache)
}

type optionFunc func(*Cache)

func (f optionFunc) apply(cache *Cache) {
	f(cache)
}

// WithSuccessTTL configures how long a success entry remains trusted.
// If zero or no WithSuccessTTL option is used, DefaultSuccessTTL applies.
func WithSuccessTTL(ttl time.Duration) Option {
	return optionFunc(func(cache *Cache) {
		cache.successTTL = ttl
	})
}

// WithFailureTTL configures how long a failure entry remains trusted.
// If zero or no WithFailureTTL option is used, DefaultFailureTTL applies.
func WithFailureTTL(ttl time.Duration) Option {
	return optionFunc(func(cache *Cache) {
		cache.failureTTL = ttl
	})
}

// WithClock configures the clock used to timestamp and age entries.
// This is intended for tests.
func WithClock(clock internal.Clock) Option {
	return optionFunc(func(cache *Cache) {
		cache.clock = clock
	})
}

// NewCache creates a new outcome cache with the given options.
func NewCache(options ...Option) *Cache {
	cache := &Cache{
		entries: make(map[string]Entry),
	}
	for _, opt := range options {
		opt.apply(cache)
	}
	if cache.successTTL == 0 {
		cache.successTTL = DefaultSuccessTTL
	}
	if cache.failureTTL == 0 {
		cache.failureTTL = DefaultFailureTTL
	}
	if cache.clock == nil {
		cache.clock = internal.NewRealClock()
	}
	return cache
}

// Record upserts the outcome for the given location, timestamped now.
// Concurrent calls for the same location are resolved last-write-wins.
func (c *Cache) Record(location string, succeeded bool) {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[location] = Entry{Succeeded: succeeded, RecordedAt: now}
}

// Lookup returns the entry for the given location, if one exists and is
// still within its TTL. An entry older than its TTL behaves as absent
// and is pruned; there is no background sweep.
func (c *Cache) Lookup(location string) (Entry, bool) {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[location]
	if !ok {
		return Entry{}, false
	}
	if now.Sub(entry.RecordedAt) >= c.ttlFor(entry) {
		delete(c.entries, location)
		return Entry{}, false
	}
	return entry, true
}

func (c *Cache) ttlFor(entry Entry) time.Duration {
	if entry.Succeeded {
		return c.successTTL
	}
	return c.failureTTL
}
