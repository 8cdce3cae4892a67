/*
 * Copyright 2025 FlowSentry Contributors.
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

// Package config loads component configuration from JSON files with an
// environment-variable overlay.
package config

import (
	"context"
	"fmt"

	"github.com/flowsentry/flowsentry/pkg/logger"
)

// EnvPrefix is prepended to every overlay environment variable.
const EnvPrefix = "FLOWSENTRY_"

// Loader loads configuration from some source into dst.
type Loader interface {
	Load(ctx context.Context, path string, dst interface{}) error
}

// Validator is implemented by configs that can validate themselves.
type Validator interface {
	Validate() error
}

// ValidateConfig validates cfg if it implements Validator.
func ValidateConfig(cfg interface{}) error {
	v, ok := cfg.(Validator)
	if !ok {
		return nil
	}

	return v.Validate()
}

// Config loads a JSON config file and overlays environment variables on top,
// so a container deployment can override individual fields without editing
// the file.
type Config struct {
	file   Loader
	env    Loader
	logger logger.Logger
}

// NewConfig builds a loader chain. A nil logger falls back to a no-op logger.
func NewConfig(log logger.Logger) *Config {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Config{
		file:   &FileLoader{},
		env:    NewEnvLoader(log, EnvPrefix),
		logger: log,
	}
}

// Load reads path into dst, applies the env overlay, then validates.
func (c *Config) Load(ctx context.Context, path string, dst interface{}) error {
	if err := c.file.Load(ctx, path, dst); err != nil {
		return err
	}

	if err := c.env.Load(ctx, path, dst); err != nil {
		return err
	}

	if err := ValidateConfig(dst); err != nil {
		return fmt.Errorf("invalid configuration in %s: %w", path, err)
	}

	return nil
}
