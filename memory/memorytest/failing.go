package memorytest

import (
	"context"
	"errors"
	"sync"

	"github.com/becomeliminal/nim-finagent/core"
	"github.com/becomeliminal/nim-finagent/memory"
)

// ErrInjected is the cause wrapped into every injected failure.
var ErrInjected = errors.New("injected failure")

// FlakyStore wraps a store and fails selected operations with
// core.ErrStoreUnavailable.
type FlakyStore struct {
	memory.Store

	mu         sync.Mutex
	failPut    bool
	failGet    bool
	failAppend bool
}

// NewFlakyStore wraps inner.
func NewFlakyStore(inner memory.Store) *FlakyStore {
	return &FlakyStore{Store: inner}
}

// FailAppend toggles Append failures.
func (f *FlakyStore) FailAppend(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAppend = fail
}

// FailPut toggles Put failures.
func (f *FlakyStore) FailPut(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPut = fail
}

// FailGet toggles Get failures.
func (f *FlakyStore) FailGet(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failGet = fail
}

func (f *FlakyStore) injected() error {
	return errors.Join(core.ErrStoreUnavailable, ErrInjected)
}

func (f *FlakyStore) Put(ctx context.Context, ns core.Namespace, key string, value []byte) error {
	f.mu.Lock()
	fail := f.failPut
	f.mu.Unlock()
	if fail {
		return f.injected()
	}
	return f.Store.Put(ctx, ns, key, value)
}

func (f *FlakyStore) Get(ctx context.Context, ns core.Namespace, key string) ([]byte, bool, error) {
	f.mu.Lock()
	fail := f.failGet
	f.mu.Unlock()
	if fail {
		return nil, false, f.injected()
	}
	return f.Store.Get(ctx, ns, key)
}

func (f *FlakyStore) Append(ctx context.Context, ns core.Namespace, entry core.AuditEntry) error {
	f.mu.Lock()
	fail := f.failAppend
	f.mu.Unlock()
	if fail {
		return f.injected()
	}
	return f.Store.Append(ctx, ns, entry)
}
