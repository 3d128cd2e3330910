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
	"encoding/binary"
	"strings"

	"github.com/bookline/coverart/attribute"
	"github.com/cespare/xxhash/v2"
)

// Kind identifies the source a candidate location came from. Besides
// the two kinds defined here, kinds are opaque caller-defined strings,
// typically catalog names.
type Kind string

const (
	// KindOverride is the kind of a candidate built from a request's
	// user-supplied override location.
	KindOverride Kind = "override"

	// KindPlaceholder is the kind of the terminal placeholder candidate
	// that every chain ends with. It cannot fail and is never probed.
	KindPlaceholder Kind = "placeholder"
)

// Alternate is one fallback source for a cover, tagged with the kind of
// source it came from. Attributes may carry arbitrary caller metadata
// (catalog display name, expected dimensions, ...) which is passed
// through to the committed candidate.
type Alternate struct {
	Kind       Kind
	Location   string
	Attributes attribute.Values
}

// Request describes everything that can influence the resolution of one
// cover. A request is immutable once passed to the engine; when the
// underlying record changes, the consumer supplies a fresh request
// instead of mutating the old one.
type Request struct {
	// Override is an optional user-supplied location. If present,
	// non-blank, and not denied, it alone is probed and the fallback
	// alternates are bypassed entirely: an override is authoritative.
	Override string

	// Alternates are fallback locations in declared priority order.
	Alternates []Alternate

	// Revision is a freshness token, typically the record's update
	// timestamp. It busts a previously committed result when the
	// underlying record changes even if all locations are identical.
	Revision string
}

// Candidate is one concrete location considered during a resolution
// chain. Candidates are immutable; the engine derives them once per
// chain from the request and the outcome cache.
type Candidate struct {
	Kind       Kind
	Location   string
	Attributes attribute.Values
}

// Receiver is a consumer of resolution results. OnCommit is called with
// the currently committed candidate: the placeholder when a new
// identity begins resolving, then the final result. It is never called
// concurrently for the same Watcher, but implementations should return
// promptly since it is invoked from the engine's goroutines.
type Receiver interface {
	OnCommit(Candidate)
}

// ReceiverFunc adapts an ordinary function to the Receiver interface.
type ReceiverFunc func(Candidate)

// OnCommit implements Receiver.
func (f ReceiverFunc) OnCommit(candidate Candidate) {
	f(candidate)
}

// fingerprintOf derives the identity fingerprint of a request: a pure
// function of the override, the alternates, and the revision. Fields
// are length-delimited so that different field boundaries can never
// produce the same digest input.
func fingerprintOf(req Request) uint64 {
	digest := xxhash.New()
	writeDelimited(digest, req.Override)
	for _, alternate := range req.Alternates {
		writeDelimited(digest, string(alternate.Kind))
		writeDelimited(digest, alternate.Location)
	}
	writeDelimited(digest, req.Revision)
	return digest.Sum64()
}

func writeDelimited(digest *xxhash.Digest, value string) {
	var length [8]byte
	binary.LittleEndian.PutUint64(length[:], uint64(len(value)))
	_, _ = digest.Write(length[:])
	_, _ = digest.WriteString(value)
}

// buildCandidates turns a request into the ordered candidate list for
// one chain, highest priority first. It is pure apart from reading the
// outcome cache and always returns at least one candidate: the
// terminal placeholder guarantees the chain ends in a usable result
// even if everything else is filtered out or exhausted.
func (e *Engine) buildCandidates(req Request) []Candidate {
	if req.Override != "" {
		if location := strings.TrimSpace(e.mapLocation(req.Override)); location != "" && !e.denyList.IsDenied(location) {
			// An override is authoritative: the fallback alternates are
			// bypassed entirely. Only the terminal placeholder follows it.
			return []Candidate{
				{Kind: KindOverride, Location: location},
				e.placeholderCandidate(),
			}
		}
	}
	candidates := make([]Candidate, 0, len(req.Alternates)+1)
	for _, alternate := range req.Alternates {
		location := strings.TrimSpace(e.mapLocation(alternate.Location))
		if location == "" || e.denyList.IsDenied(location) {
			continue
		}
		if entry, ok := e.outcomes.Lookup(location); ok && !entry.Succeeded {
			// Recent known-bad. A fresh success entry, an expired entry
			// of either kind, or no entry at all keeps the alternate in.
			continue
		}
		candidates = append(candidates, Candidate{
			Kind:       alternate.Kind,
			Location:   location,
			Attributes: alternate.Attributes,
		})
	}
	return append(candidates, e.placeholderCandidate())
}

func (e *Engine) placeholderCandidate() Candidate {
	return Candidate{Kind: KindPlaceholder, Location: e.placeholder}
}
