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

package api

// Session is a plain HostSession value, used by hosts that describe their
// sessions in configuration.
type Session struct {
	SessionID   uint64 `mapstructure:"id"`
	SessionName string `mapstructure:"name"`
	Node        string `mapstructure:"node_id"`
	Location    string `mapstructure:"location_id"`
}

func (s *Session) ID() uint64 { return s.SessionID }

func (s *Session) Name() string { return s.SessionName }

func (s *Session) NodeID() string { return s.Node }

func (s *Session) LocationID() string { return s.Location }
