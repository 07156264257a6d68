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

package plugin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type ConfigTestSuite struct {
	suite.Suite
}

func (s *ConfigTestSuite) TestVerifyConfig() {
	s.Require().NoError(VerifyConfig(DefaultConfig()))
	s.Require().Error(VerifyConfig(nil))

	config := DefaultConfig()
	config.DefaultInterval = 500 * time.Millisecond
	s.Require().Error(VerifyConfig(config))
	config.DefaultInterval = time.Minute

	config.TopicKey = ""
	s.Require().Error(VerifyConfig(config))
	config.TopicKey = config.IntervalKey
	s.Require().Error(VerifyConfig(config))
	config.TopicKey = TopicKey

	config.AuxServiceID = ""
	s.Require().Error(VerifyConfig(config))
	config.AuxServiceID = "bc"

	config.Compare = nil
	s.Require().Error(VerifyConfig(config))
	config.Compare = DefaultConfig().Compare

	config.Offline.MaxInterval = config.Offline.InitialInterval / 2
	s.Require().Error(VerifyConfig(config))
	config.Offline.MaxInterval = time.Hour

	config.Offline.Multiplier = 0.5
	s.Require().Error(VerifyConfig(config))
	config.Offline.Multiplier = 1

	config.Offline.Jitter = 1
	s.Require().Error(VerifyConfig(config))
	config.Offline.Jitter = 0

	s.Require().NoError(VerifyConfig(config))
}

func (s *ConfigTestSuite) TestParseInterval() {
	for in, want := range map[string]time.Duration{
		"60":    time.Minute,
		" 600 ": 10 * time.Minute,
		"1":     time.Second,
		"0":     0,
		"-5":    0,
		"abc":   0,
		"1.5":   0,
		"":      0,
		// overflows a time.Duration
		"99999999999": 0,
	} {
		got, ok := parseInterval(in)
		s.Equal(want != 0, ok, "input %q", in)
		s.Equal(want, got, "input %q", in)
	}
}

func (s *ConfigTestSuite) TestCreateWithoutConfig() {
	p, err := New(nil, Dependencies{Stats: zeroStats})
	s.Require().NoError(err)
	s.Require().NotNil(p)
	s.Equal(defaultReportInterval, p.conf.DefaultInterval)
}

func (s *ConfigTestSuite) TestCreateByWrongConfig() {
	config := DefaultConfig()
	config.IntervalKey = ""
	p, err := New(config, Dependencies{Stats: zeroStats})
	s.Require().Error(err)
	s.Require().Nil(p)

	p, err = New(DefaultConfig(), Dependencies{})
	s.Require().ErrorIs(err, ErrNoStatsSource)
	s.Require().Nil(p)
}

func TestConfigTestSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}
