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
	"testing"
	"time"

	"github.com/bookline/coverart/denylist"
	"github.com/bookline/coverart/internal/clocktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint(t *testing.T) {
	t.Parallel()

	base := Request{
		Override: "https://good/x.jpg",
		Alternates: []Alternate{
			{Kind: "openlibrary", Location: "https://a.example.org/1.jpg"},
			{Kind: "googlebooks", Location: "https://b.example.org/1.jpg"},
		},
		Revision: "2026-08-29T10:00:00Z",
	}

	// Pure function: same inputs, same fingerprint.
	assert.Equal(t, fingerprintOf(base), fingerprintOf(base))

	// Every field participates.
	changed := base
	changed.Override = "https://other/x.jpg"
	assert.NotEqual(t, fingerprintOf(base), fingerprintOf(changed))

	changed = base
	changed.Revision = "2026-08-29T11:00:00Z"
	assert.NotEqual(t, fingerprintOf(base), fingerprintOf(changed))

	changed = base
	changed.Alternates = []Alternate{base.Alternates[1], base.Alternates[0]}
	assert.NotEqual(t, fingerprintOf(base), fingerprintOf(changed))

	// Field boundaries are delimited: shifting bytes between adjacent
	// fields must change the digest.
	assert.NotEqual(t,
		fingerprintOf(Request{Override: "ab", Revision: ""}),
		fingerprintOf(Request{Override: "a", Revision: "b"}),
	)
}

func TestBuildCandidates(t *testing.T) {
	t.Parallel()

	testClock := clocktest.NewFakeClock()
	engine := newEngine(
		testClock,
		WithDenyList(denylist.NewHostSet("denied.example.net")),
		WithFailureTTL(time.Hour),
	)
	t.Cleanup(func() { require.NoError(t, engine.Close()) })

	alternates := []Alternate{
		{Kind: "openlibrary", Location: "https://a.example.org/1.jpg"},
		{Kind: "mirror", Location: "https://denied.example.net/1.jpg"},
		{Kind: "upload", Location: "   "},
		{Kind: "googlebooks", Location: "https://b.example.org/1.jpg"},
	}

	// No override: denied and blank alternates are filtered, order is
	// preserved, and the placeholder is always terminal.
	candidates := engine.buildCandidates(Request{Alternates: alternates})
	require.Len(t, candidates, 3)
	assert.Equal(t, "https://a.example.org/1.jpg", candidates[0].Location)
	assert.Equal(t, "https://b.example.org/1.jpg", candidates[1].Location)
	assert.Equal(t, KindPlaceholder, candidates[2].Kind)

	// A fresh failure entry filters its alternate; a success entry and
	// an expired failure entry do not.
	engine.outcomes.Record("https://a.example.org/1.jpg", false)
	engine.outcomes.Record("https://b.example.org/1.jpg", true)
	candidates = engine.buildCandidates(Request{Alternates: alternates})
	require.Len(t, candidates, 2)
	assert.Equal(t, "https://b.example.org/1.jpg", candidates[0].Location)

	testClock.Advance(time.Hour)
	candidates = engine.buildCandidates(Request{Alternates: alternates})
	require.Len(t, candidates, 3)
	assert.Equal(t, "https://a.example.org/1.jpg", candidates[0].Location)

	// A usable override bypasses the alternates entirely, even ones
	// with fresh success entries.
	candidates = engine.buildCandidates(Request{
		Override:   "https://good/x.jpg",
		Alternates: alternates,
	})
	require.Len(t, candidates, 2)
	assert.Equal(t, KindOverride, candidates[0].Kind)
	assert.Equal(t, "https://good/x.jpg", candidates[0].Location)
	assert.Equal(t, KindPlaceholder, candidates[1].Kind)

	// A denied or blank override falls back to the alternates.
	candidates = engine.buildCandidates(Request{
		Override:   "https://denied.example.net/override.jpg",
		Alternates: alternates,
	})
	require.NotEmpty(t, candidates)
	assert.NotEqual(t, KindOverride, candidates[0].Kind)

	candidates = engine.buildCandidates(Request{Override: "   ", Alternates: alternates})
	require.NotEmpty(t, candidates)
	assert.NotEqual(t, KindOverride, candidates[0].Kind)
}
