/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package registry provides an ordered, mutex-guarded map from an opaque
// host handle to per-session state.
//
// Entries live in a skip list ordered by a caller-supplied comparison
// function, giving logarithmic lookup, insert and remove and a
// deterministic iteration order for diagnostics.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Workiva/go-datastructures/common"
	"github.com/Workiva/go-datastructures/slice/skip"
)

// ErrAllocation is returned when a new entry cannot be created.
var ErrAllocation = errors.New("registry: cannot allocate entry")

// Guard is consulted before a new entry is allocated. A non-nil error
// refuses the allocation.
type Guard interface {
	Allow() error
}

// GuardFunc adapts a function to Guard.
type GuardFunc func() error

func (f GuardFunc) Allow() error { return f() }

// Option configures a Registry.
type Option func(*options)

type options struct {
	guard Guard
}

// WithGuard installs an allocation guard.
func WithGuard(g Guard) Option {
	return func(o *options) { o.guard = g }
}

// Registry maps keys of type K to values of type V. All methods are safe
// for concurrent use. The zero value is not usable; call New.
type Registry[K, V any] struct {
	mu    sync.Mutex
	list  *skip.SkipList
	cmp   func(a, b K) int
	guard Guard
}

type entry[K, V any] struct {
	key   K
	value V
	cmp   func(a, b K) int
}

func (e *entry[K, V]) Compare(other common.Comparator) int {
	return e.cmp(e.key, other.(*entry[K, V]).key)
}

// New returns a registry ordering keys with cmp, which must return a
// negative number, zero or a positive number like cmp.Compare.
func New[K, V any](cmp func(a, b K) int, opts ...Option) *Registry[K, V] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Registry[K, V]{cmp: cmp, guard: o.guard}
}

// lazyInit must be called with r.mu held.
func (r *Registry[K, V]) lazyInit() {
	if r.list == nil {
		r.list = skip.New(uint64(0))
	}
}

func (r *Registry[K, V]) searchKey(key K) *entry[K, V] {
	return &entry[K, V]{key: key, cmp: r.cmp}
}

// find must be called with r.mu held.
func (r *Registry[K, V]) find(key K) *entry[K, V] {
	found := r.list.Get(r.searchKey(key))
	if len(found) == 0 || found[0] == nil {
		return nil
	}
	return found[0].(*entry[K, V])
}

// LookupOrCreate returns the value stored for key, or stores and returns
// the value produced by create. created reports whether create ran.
// create is called with the registry lock held and must not call back
// into the registry.
func (r *Registry[K, V]) LookupOrCreate(key K, create func() (V, error)) (value V, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lazyInit()

	if e := r.find(key); e != nil {
		return e.value, false, nil
	}
	if r.guard != nil {
		if gerr := r.guard.Allow(); gerr != nil {
			return value, false, fmt.Errorf("%w: %w", ErrAllocation, gerr)
		}
	}
	v, cerr := create()
	if cerr != nil {
		return value, false, fmt.Errorf("%w: %w", ErrAllocation, cerr)
	}
	e := r.searchKey(key)
	e.value = v
	r.list.Insert(e)
	return v, true, nil
}

// Get returns the value stored for key.
func (r *Registry[K, V]) Get(key K) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lazyInit()

	if e := r.find(key); e != nil {
		return e.value, true
	}
	var zero V
	return zero, false
}

// Remove deletes key and returns the value it held. Removing an absent key
// is a no-op.
func (r *Registry[K, V]) Remove(key K) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lazyInit()

	e := r.find(key)
	if e == nil {
		var zero V
		return zero, false
	}
	r.list.Delete(e)
	return e.value, true
}

// Len returns the number of entries.
func (r *Registry[K, V]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.list == nil {
		return 0
	}
	return int(r.list.Len())
}

// Range calls fn for every entry in ascending key order until fn returns
// false. It iterates over a copy taken under the lock, so fn may call back
// into the registry.
func (r *Registry[K, V]) Range(fn func(key K, value V) bool) {
	r.mu.Lock()
	r.lazyInit()
	n := r.list.Len()
	entries := make([]*entry[K, V], 0, n)
	for i := uint64(0); i < n; i++ {
		entries = append(entries, r.list.ByPosition(i).(*entry[K, V]))
	}
	r.mu.Unlock()

	for _, e := range entries {
		if !fn(e.key, e.value) {
			return
		}
	}
}
