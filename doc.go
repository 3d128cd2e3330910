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

// Package coverart resolves the best available cover-image location for
// a book from an ordered set of candidate sources, degrading gracefully
// to a placeholder when no source is reachable.
//
// A single cover can come from several places: a user-supplied override,
// or one of several third-party catalogs, any of which may be missing,
// slow, or wrong for a given book. The engine probes candidates one at
// a time, in priority order, with a bounded timeout per attempt, and
// remembers which locations recently worked or failed in a shared
// [outcome.Cache] so that repeated renders of the same book never
// redundantly re-probe known-bad or known-good sources.
//
// To create a new engine use the [NewEngine] function. It accepts
// options for the probe timeout, the cache TTLs, a custom
// [probe.Prober], a [denylist.DenyList], and a mapper that converts
// logical storage paths into fetchable URLs.
//
// # Watching a cover
//
// Each displayed book gets a [Watcher], created with [Engine.Watch].
// The consumer passes a [Receiver] whose OnCommit method is invoked
// with the currently committed candidate: first the placeholder, then,
// if any source is reachable, the resolved location. The consumer must
// render the placeholder as a valid interim and terminal state.
//
// Whenever the book's underlying record changes (a new override, a
// different catalog ID, an updated timestamp), the consumer calls
// [Watcher.Update] with a fresh [Request] rather than mutating the old
// one. The engine fingerprints the request; if nothing relevant
// changed and a result is already committed, no probing happens at
// all. If the identity did change, any in-flight probing for the old
// identity is cancelled and its late results are discarded.
//
// # Guarantees
//
//   - The chain always terminates within (number of candidates) times
//     the probe timeout and always yields exactly one result.
//   - A committed non-placeholder location is never replaced by the
//     placeholder for an unchanged identity, regardless of later
//     failures or timeouts.
//   - No probe failure ever surfaces to the consumer as an error; the
//     only observable output is a location.
//
// Independent watchers share nothing but the outcome cache, so many
// covers can resolve concurrently without coordinating.
package coverart
