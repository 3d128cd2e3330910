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

package denylist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHostSet(t *testing.T) {
	t.Parallel()

	list := NewHostSet("covers.example.org", "Mirror.Example.NET")

	testCases := []struct {
		location string
		denied   bool
	}{
		{"https://covers.example.org/b/id/1-L.jpg", true},
		{"https://COVERS.EXAMPLE.ORG/b/id/1-L.jpg", true},
		{"http://covers.example.org:8080/x.png", true},
		{"https://mirror.example.net/x.png", true},
		{"https://other.example.org/b/id/1-L.jpg", false},
		{"https://example.org/covers.example.org", false},
		{"not a url", false},
		{"", false},
	}
	for _, testCase := range testCases {
		assert.Equal(t, testCase.denied, list.IsDenied(testCase.location), "location %q", testCase.location)
	}
}

func TestNop(t *testing.T) {
	t.Parallel()

	assert.False(t, Nop.IsDenied("https://anything.example.org/x.jpg"))
	assert.False(t, Nop.IsDenied(""))
}
