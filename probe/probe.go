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

// Package probe provides the network probe collaborator used by the
// cover resolution engine. A prober answers one question about a
// location: is it currently reachable? It reports the final location
// after any redirects, so the engine can re-check the deny list against
// where the probe actually landed.
package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

//nolint:gochecknoglobals
var (
	defaultDialer = &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
)

// Prober is an interface for types that can perform a single-shot
// reachability probe against a location.
//
// A nil error means the location is reachable; finalLocation is where
// the probe ultimately landed, which may differ from the requested
// location if the server redirected. A non-nil error is an explicit
// negative signal, except when it wraps the context's error: the engine
// treats a probe cut short by cancellation as inconclusive rather than
// as a failure.
type Prober interface {
	Probe(ctx context.Context, location string) (finalLocation string, err error)
}

// ProberFunc adapts an ordinary function to the Prober interface.
type ProberFunc func(ctx context.Context, location string) (string, error)

// Probe implements Prober.
func (f ProberFunc) Probe(ctx context.Context, location string) (string, error) {
	return f(ctx, location)
}

// Option is an option used to customize the behavior of a prober
// created with NewHTTPProber.
type Option interface {
	apply(*proberOptions)
}

type optionFunc func(*proberOptions)

func (f optionFunc) apply(opts *proberOptions) {
	f(opts)
}

type proberOptions struct {
	client        *http.Client
	redirectLimit int
	h2c           bool
}

func (opts *proberOptions) applyDefaults() {
	if opts.redirectLimit == 0 {
		opts.redirectLimit = 10
	}
}

// WithHTTPClient configures the prober to issue requests with the given
// client instead of constructing its own. The client's CheckRedirect
// policy is replaced so the prober can bound and observe redirects.
func WithHTTPClient(client *http.Client) Option {
	return optionFunc(func(opts *proberOptions) {
		opts.client = client
	})
}

// WithRedirectLimit configures how many redirects a probe will follow
// before reporting failure. If zero or no WithRedirectLimit option is
// used, a default of 10 is applied.
func WithRedirectLimit(limit int) Option {
	return optionFunc(func(opts *proberOptions) {
		opts.redirectLimit = limit
	})
}

// WithH2C configures the prober to speak HTTP/2 over clear-text. This
// is useful when probing an in-cluster image proxy that serves h2c.
// It has no effect when WithHTTPClient is also used.
func WithH2C() Option {
	return optionFunc(func(opts *proberOptions) {
		opts.h2c = true
	})
}

// NewHTTPProber returns a prober that issues an HTTP GET request to the
// location. A 2xx response means the location is reachable; any other
// status is an explicit failure. The response body is discarded.
func NewHTTPProber(options ...Option) Prober {
	var opts proberOptions
	for _, opt := range options {
		opt.apply(&opts)
	}
	opts.applyDefaults()

	client := opts.client
	if client == nil {
		client = &http.Client{Transport: newTransport(opts.h2c)}
	} else {
		cloned := *client
		client = &cloned
	}
	client.CheckRedirect = func(_ *http.Request, via []*http.Request) error {
		if len(via) > opts.redirectLimit {
			return fmt.Errorf("too many redirects (> %d)", opts.redirectLimit)
		}
		return nil
	}
	return &httpProber{client: client}
}

type httpProber struct {
	client *http.Client
}

func (p *httpProber) Probe(ctx context.Context, location string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, http.NoBody)
	if err != nil {
		return "", err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("probe of %s: unexpected status %s", location, resp.Status)
	}
	// resp.Request reflects the last request in the redirect chain, so
	// its URL is where the probe actually landed.
	return resp.Request.URL.String(), nil
}

func newTransport(h2c bool) http.RoundTripper {
	if h2c {
		// HTTP/2 over clear-text requires the x/net client: we dial a
		// plain TCP connection where the transport would perform a TLS
		// handshake.
		return &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				return defaultDialer.DialContext(ctx, network, addr)
			},
		}
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           defaultDialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
