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

package daemon

import (
	"cmp"
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/srediag/plugin-healthstats/api"
	"github.com/srediag/plugin-healthstats/internal/logging"
)

// sessionDriver is the part of lifecycle.Driver the host needs.
type sessionDriver interface {
	Attach(api.HostSession) error
	Detach(api.HostSession) error
	Reload(api.HostSession) error
}

type hostSession struct {
	hs     *api.Session
	config map[string]string
}

// Host owns the configured sessions and serves their plugin configuration.
// It implements api.ConfigAccessor.
type Host struct {
	mu       sync.RWMutex
	sessions map[uint64]*hostSession
	log      *logging.Logger
}

// NewHost returns a host with no sessions.
func NewHost() *Host {
	return &Host{
		sessions: make(map[uint64]*hostSession),
		log:      logging.Default().Named("host"),
	}
}

func (h *Host) GetConfig(s api.HostSession, key string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	hs, ok := h.sessions[s.ID()]
	if !ok {
		return "", false
	}
	v, ok := hs.config[key]
	return v, ok
}

// Sessions returns the configured sessions in id order.
func (h *Host) Sessions() []api.HostSession {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]api.HostSession, 0, len(h.sessions))
	for _, hs := range h.sessions {
		out = append(out, hs.hs)
	}
	slices.SortFunc(out, func(a, b api.HostSession) int { return cmp.Compare(a.ID(), b.ID()) })
	return out
}

// Apply makes cfgs the configured session set: new sessions are attached,
// missing ones detached and sessions whose config changed reloaded.
func (h *Host) Apply(d sessionDriver, cfgs []SessionConfig) error {
	next := make(map[uint64]*hostSession, len(cfgs))
	for i := range cfgs {
		c := cfgs[i]
		s := c.Session
		next[s.SessionID] = &hostSession{hs: &s, config: maps.Clone(c.Config)}
	}

	h.mu.Lock()
	prev := h.sessions
	var added, removed, changed []*hostSession
	for id, ns := range next {
		ps, ok := prev[id]
		switch {
		case !ok:
			added = append(added, ns)
		case *ps.hs != *ns.hs:
			// identity details changed: treat as a new session
			removed = append(removed, ps)
			added = append(added, ns)
		case !maps.Equal(ps.config, ns.config):
			// keep the handle the plugin already knows
			ns.hs = ps.hs
			changed = append(changed, ns)
		default:
			ns.hs = ps.hs
		}
	}
	for id, ps := range prev {
		if _, ok := next[id]; !ok {
			removed = append(removed, ps)
		}
	}
	h.sessions = next
	h.mu.Unlock()

	// removed sessions leave before their replacements attach
	var errs []error
	for _, ps := range removed {
		if err := d.Detach(ps.hs); err != nil {
			errs = append(errs, err)
		}
	}

	for _, ns := range added {
		if err := d.Attach(ns.hs); err != nil {
			h.log.Errorf("session %d: attach: %v", ns.hs.SessionID, err)
			errs = append(errs, err)
		}
	}
	for _, ns := range changed {
		if err := d.Reload(ns.hs); err != nil {
			errs = append(errs, err)
		}
	}
	if len(added)+len(removed)+len(changed) > 0 {
		h.log.Infof("sessions: %d added, %d removed, %d reloaded", len(added), len(removed), len(changed))
	}
	return errors.Join(errs...)
}
