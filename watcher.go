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
	"sync"
)

// Watch creates a watcher bound to the given receiver. The watcher does
// nothing until its first Update call. It stops when the given context
// is cancelled, when its Close method is called, or when the engine is
// closed, whichever comes first.
func (e *Engine) Watch(ctx context.Context, receiver Receiver) *Watcher {
	watchCtx, cancel := context.WithCancel(e.ctx)
	stop := context.AfterFunc(ctx, cancel)
	return &Watcher{
		engine:   e,
		receiver: receiver,
		ctx:      watchCtx,
		cancel:   cancel,
		stop:     stop,
	}
}

// Watcher tracks the currently committed cover location for one
// book/user pairing. It holds all per-request state: the identity
// fingerprint, the generation counter that invalidates stale
// settlements, and the committed result. Watchers created from the
// same engine share nothing but the outcome cache.
//
// Methods on Watcher are safe for concurrent use. The receiver's
// OnCommit is never invoked concurrently; it may call Committed but
// must not call Update or Close synchronously.
type Watcher struct {
	engine   *Engine
	receiver Receiver
	ctx      context.Context //nolint:containedctx
	cancel   context.CancelFunc
	stop     func() bool

	// notifyMu serializes deliveries to the receiver and orders them
	// with respect to identity changes; mu guards only the state and
	// may be taken while notifyMu is held, never the other way around.
	notifyMu sync.Mutex
	mu       sync.Mutex

	hasIdentity bool
	fingerprint uint64
	generation  uint64
	committed   Candidate
	resolved    bool
	chainCancel context.CancelFunc
	closed      bool
}

// Update supplies the watcher's current request. If the request's
// identity fingerprint is unchanged from the previous call, this is a
// no-op: an already committed result stands and an in-flight chain
// keeps running, with no additional probes either way.
//
// If the identity changed, the previous chain is cancelled so that its
// late settlements are discarded, the committed result resets to the
// placeholder (which the receiver is handed as a valid interim state),
// and a fresh chain begins.
func (w *Watcher) Update(req Request) {
	fingerprint := fingerprintOf(req)

	w.notifyMu.Lock()
	defer w.notifyMu.Unlock()

	w.mu.Lock()
	if w.closed || (w.hasIdentity && fingerprint == w.fingerprint) {
		w.mu.Unlock()
		return
	}
	w.hasIdentity = true
	w.fingerprint = fingerprint
	w.generation++
	generation := w.generation
	if w.chainCancel != nil {
		w.chainCancel()
	}
	chainCtx, chainCancel := context.WithCancel(w.ctx)
	w.chainCancel = chainCancel
	placeholder := w.engine.placeholderCandidate()
	w.committed = placeholder
	w.resolved = false
	w.mu.Unlock()

	w.receiver.OnCommit(placeholder)

	w.engine.chains.Add(1)
	go w.runChain(chainCtx, generation, req)
}

func (w *Watcher) runChain(ctx context.Context, generation uint64, req Request) {
	defer w.engine.chains.Done()
	candidate := w.engine.Resolve(ctx, req)
	if ctx.Err() != nil {
		// Superseded or torn down while probing; the outcome cache may
		// have been updated along the way, but the sink must not be.
		return
	}
	w.commit(generation, candidate)
}

// commit is the result sink. A settlement carrying a stale generation
// is silently discarded: the watcher has moved on to a new identity.
// Once a non-placeholder location is committed for an identity, a
// later placeholder settlement for that same identity is a no-op, so a
// previously shown correct result is never downgraded.
func (w *Watcher) commit(generation uint64, candidate Candidate) {
	w.notifyMu.Lock()
	defer w.notifyMu.Unlock()

	w.mu.Lock()
	if w.closed || generation != w.generation {
		w.mu.Unlock()
		return
	}
	if w.resolved && candidate.Kind == KindPlaceholder {
		w.mu.Unlock()
		return
	}
	w.committed = candidate
	w.resolved = true
	w.mu.Unlock()

	w.receiver.OnCommit(candidate)
}

// Committed returns the currently committed candidate and whether the
// chain for the current identity has settled. Before the first Update,
// and between an identity change and its chain settling, the candidate
// is the placeholder and settled is false.
func (w *Watcher) Committed() (candidate Candidate, settled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.hasIdentity {
		return w.engine.placeholderCandidate(), false
	}
	return w.committed, w.resolved
}

// Close tears the watcher down. Any in-flight chain is cancelled and
// its settlements are discarded; once Close returns, the receiver will
// not be called again.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	chainCancel := w.chainCancel
	w.mu.Unlock()

	w.stop()
	if chainCancel != nil {
		chainCancel()
	}
	w.cancel()

	// Wait out any delivery already in flight; later settlements see
	// the closed flag and are dropped before reaching the receiver.
	w.notifyMu.Lock()
	defer w.notifyMu.Unlock()
	return nil
}
