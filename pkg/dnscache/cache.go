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

// Package dnscache is the auxiliary IP to action cache consulted before the
// categorization engine. It keeps a cumulative hit counter per service.
package dnscache

import (
	"net/netip"
	"sync/atomic"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/srediag/plugin-healthstats/internal/clock"
)

// Action is the verdict cached for an address.
type Action uint8

const (
	ActionNone Action = iota
	ActionAllow
	ActionBlock
	ActionRedirect
)

func (a Action) String() string {
	switch a {
	case ActionAllow:
		return "allow"
	case ActionBlock:
		return "block"
	case ActionRedirect:
		return "redirect"
	}
	return "none"
}

// Entry is one cached verdict.
type Entry struct {
	ServiceID  string
	Action     Action
	Categories []uint8
	Expires    time.Time
}

// DefaultTTL is used when the cache is built with a zero TTL.
const DefaultTTL = 5 * time.Minute

// Cache is safe for concurrent use.
type Cache struct {
	ttl   time.Duration
	clock clock.Clock

	entries cmap.ConcurrentMap[netip.Addr, Entry]
	hits    cmap.ConcurrentMap[string, *atomic.Uint64]
}

// New returns an empty cache. A nil clock uses wall time.
func New(ttl time.Duration, c clock.Clock) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if c == nil {
		c = clock.Real{}
	}
	return &Cache{
		ttl:     ttl,
		clock:   c,
		entries: cmap.NewWithCustomShardingFunction[netip.Addr, Entry](shard),
		hits:    cmap.New[*atomic.Uint64](),
	}
}

// Add caches e for ip. A zero Expires is set to now plus the cache TTL.
func (c *Cache) Add(ip netip.Addr, e Entry) {
	if e.Expires.IsZero() {
		e.Expires = c.clock.Now().Add(c.ttl)
	}
	c.entries.Set(ip, e)
}

// Lookup returns the live entry for ip and counts a hit for its service.
// An expired entry is removed and reported as a miss.
func (c *Cache) Lookup(ip netip.Addr) (Entry, bool) {
	e, ok := c.entries.Get(ip)
	if !ok {
		return Entry{}, false
	}
	now := c.clock.Now()
	if !now.Before(e.Expires) {
		c.entries.RemoveCb(ip, func(_ netip.Addr, v Entry, exists bool) bool {
			return exists && !now.Before(v.Expires)
		})
		return Entry{}, false
	}
	c.counter(e.ServiceID).Add(1)
	return e, true
}

func (c *Cache) counter(serviceID string) *atomic.Uint64 {
	if n, ok := c.hits.Get(serviceID); ok {
		return n
	}
	return c.hits.Upsert(serviceID, nil, func(exist bool, cur, _ *atomic.Uint64) *atomic.Uint64 {
		if exist {
			return cur
		}
		return new(atomic.Uint64)
	})
}

// shard is FNV-1a over the 16-byte form of ip.
func shard(ip netip.Addr) uint32 {
	const prime32 = 16777619
	h := uint32(2166136261)
	for _, b := range ip.As16() {
		h ^= uint32(b)
		h *= prime32
	}
	return h
}

// Remove drops ip from the cache.
func (c *Cache) Remove(ip netip.Addr) {
	c.entries.Remove(ip)
}

// Purge removes every entry expired at now and returns how many went.
func (c *Cache) Purge(now time.Time) int {
	n := 0
	for ip, e := range c.entries.Items() {
		if now.Before(e.Expires) {
			continue
		}
		if c.entries.RemoveCb(ip, func(_ netip.Addr, v Entry, exists bool) bool {
			return exists && !now.Before(v.Expires)
		}) {
			n++
		}
	}
	return n
}

// Len returns the number of cached entries, expired ones included until
// they are looked up or purged.
func (c *Cache) Len() int {
	return c.entries.Count()
}

// HitCount returns the cumulative number of hits served for serviceID. It
// never decreases.
func (c *Cache) HitCount(serviceID string) uint64 {
	if n, ok := c.hits.Get(serviceID); ok {
		return n.Load()
	}
	return 0
}
