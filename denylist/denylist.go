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

// Package denylist provides the deny-list collaborator consulted during
// cover resolution. Locations whose hosts are denied are skipped when
// building a candidate list, and a probe whose final (post-redirect)
// location lands on a denied host is demoted to a failure.
//
// What belongs on the list is the application's business; this package
// only answers membership queries.
package denylist

import (
	"net/url"
	"strings"
)

// DenyList reports whether a location must not be used as a cover
// source. Implementations must be safe for concurrent use; the engine
// consults the list from many resolution chains at once.
type DenyList interface {
	IsDenied(location string) bool
}

//nolint:gochecknoglobals
var (
	// Nop is a deny list that denies nothing.
	Nop DenyList = nopDenyList{}
)

type nopDenyList struct{}

func (nopDenyList) IsDenied(string) bool {
	return false
}

// NewHostSet returns a DenyList that denies any location whose URL host
// matches one of the given hosts. Matching is case-insensitive and
// ignores ports, so "Covers.Example.ORG" and "covers.example.org:8080"
// both match an entry "covers.example.org". A location that does not
// parse as a URL is never denied by a host set.
func NewHostSet(hosts ...string) DenyList {
	set := make(map[string]struct{}, len(hosts))
	for _, host := range hosts {
		set[strings.ToLower(host)] = struct{}{}
	}
	return &hostSet{hosts: set}
}

type hostSet struct {
	hosts map[string]struct{}
}

func (s *hostSet) IsDenied(location string) bool {
	parsed, err := url.Parse(location)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return false
	}
	_, denied := s.hosts[host]
	return denied
}
