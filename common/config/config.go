// Copyright (c) 2020 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package config holds the static configuration for a blockguard process,
// loaded with go.uber.org/config and validated with gopkg.in/validator.v2
// before anything in the process starts depending on it.
package config

import (
	"fmt"
	"strings"

	uberconfig "go.uber.org/config"
	validator "gopkg.in/validator.v2"
)

// ManagerConfig configures the attempt-id allocator and the storage-tier
// resolver that sit in front of a BlockInfoManager.
type ManagerConfig struct {
	// PreferredTier is the storage tier new blocks are resolved onto when
	// it is healthy.
	PreferredTier string `yaml:"preferredTier" validate:"nonzero"`

	// AvailableTiers is the full set of tiers the resolver may fall back
	// to when PreferredTier is unavailable.
	AvailableTiers []string `yaml:"availableTiers" validate:"min=1"`

	// AttemptIDBlockSize is the number of task attempt ids the allocator
	// reserves per lease renewal.
	AttemptIDBlockSize int64 `yaml:"attemptIDBlockSize" validate:"min=1"`

	// MetricsServiceName is the root scope name metrics are reported
	// under.
	MetricsServiceName string `yaml:"metricsServiceName" validate:"nonzero"`
}

// Validate runs struct-tag validation over c, returning a descriptive error
// if any field fails its constraint.
func (c *ManagerConfig) Validate() error {
	if err := validator.Validate(c); err != nil {
		return fmt.Errorf("config: validation failed: %w", err)
	}
	return nil
}

// Load reads and validates a ManagerConfig from the given YAML sources, in
// go.uber.org/config's usual lowest-to-highest-priority order (later
// sources override earlier ones).
func Load(sources ...uberconfig.YAMLOption) (*ManagerConfig, error) {
	provider, err := uberconfig.NewYAML(sources...)
	if err != nil {
		return nil, fmt.Errorf("config: failed to build provider: %w", err)
	}

	var cfg ManagerConfig
	if err := provider.Get(uberconfig.Root).Populate(&cfg); err != nil {
		return nil, fmt.Errorf("config: failed to populate: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile is a convenience wrapper over Load for the common case of a
// single YAML file on disk.
func LoadFile(path string) (*ManagerConfig, error) {
	return Load(uberconfig.File(path))
}

// LoadBytes is a convenience wrapper over Load for YAML held in memory,
// mainly useful in tests.
func LoadBytes(yaml string) (*ManagerConfig, error) {
	return Load(uberconfig.Source(strings.NewReader(yaml)))
}
