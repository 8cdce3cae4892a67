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

package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/flowsentry/flowsentry/pkg/logger"
)

var (
	errNoServerURL     = errors.New("delivery: server_url is required")
	errNoCaptureBinary = errors.New("capture: binary is required")
	errBadBatchSize    = errors.New("delivery: batch_size must be positive")
	errBadWindow       = errors.New("classifier: window_seconds must not be negative")
)

// Defaults for the agent pipeline.
const (
	DefaultBatchSize       = 20
	DefaultPollInterval    = 5 * time.Second
	DefaultDrainMinBytes   = 100
	DefaultBatchTimeout    = 10 * time.Second
	DefaultRegisterTimeout = 5 * time.Second
	DefaultSendDelay       = 1 * time.Second
	DefaultStopGrace       = 5 * time.Second
)

// CaptureConfig configures supervision of the external capture process.
type CaptureConfig struct {
	Binary     string   `json:"binary"`                // path to the pcap2csv executable
	Interface  string   `json:"interface,omitempty"`   // live capture interface, empty = tool default
	PcapFile   string   `json:"pcap_file,omitempty"`   // batch mode: convert this file and exit
	OutputPath string   `json:"output_path,omitempty"` // defaults to <tmp>/flows.csv
	StopGrace  Duration `json:"stop_grace,omitempty"`  // terminate -> kill grace period
}

// DeliveryConfig configures the collector-facing HTTP client.
type DeliveryConfig struct {
	ServerURL       string   `json:"server_url"`
	BatchSize       int      `json:"batch_size,omitempty"`
	BatchTimeout    Duration `json:"batch_timeout,omitempty"`
	RegisterTimeout Duration `json:"register_timeout,omitempty"`
	SendDelay       Duration `json:"send_delay,omitempty"`
}

// OfflineConfig configures the durable offline store.
type OfflineConfig struct {
	Dir string `json:"dir"`
}

// ClassifierConfig configures the optional local classification stage.
type ClassifierConfig struct {
	Enabled       bool    `json:"enabled"`
	ScalerPath    string  `json:"scaler_path,omitempty"`
	ModelPath     string  `json:"model_path,omitempty"`
	WindowSeconds float64 `json:"window_seconds,omitempty"`
}

// AgentConfig is the root configuration for the edge agent. It is loaded
// once and passed explicitly to each component; there is no process-wide
// mutable configuration.
type AgentConfig struct {
	Capture         CaptureConfig    `json:"capture"`
	Delivery        DeliveryConfig   `json:"delivery"`
	Offline         OfflineConfig    `json:"offline"`
	Classifier      ClassifierConfig `json:"classifier"`
	Location        string           `json:"location,omitempty"`
	PollInterval    Duration         `json:"poll_interval,omitempty"`
	DrainMinBytes   int64            `json:"drain_min_bytes,omitempty"`
	CaptureDuration Duration         `json:"capture_duration,omitempty"` // live mode time bound, 0 = unbounded
	MetricsAddr     string           `json:"metrics_addr,omitempty"`     // optional prometheus listener
	Logging         *logger.Config   `json:"logging,omitempty"`
}

// Validate implements config.Validator.
func (c *AgentConfig) Validate() error {
	if c.Delivery.ServerURL == "" {
		return errNoServerURL
	}

	if c.Capture.Binary == "" {
		return errNoCaptureBinary
	}

	if c.Delivery.BatchSize < 0 {
		return fmt.Errorf("%w: got %d", errBadBatchSize, c.Delivery.BatchSize)
	}

	if c.Classifier.WindowSeconds < 0 {
		return fmt.Errorf("%w: got %v", errBadWindow, c.Classifier.WindowSeconds)
	}

	return nil
}

// ApplyDefaults fills unset fields with the package defaults.
func (c *AgentConfig) ApplyDefaults() {
	if c.Delivery.BatchSize == 0 {
		c.Delivery.BatchSize = DefaultBatchSize
	}

	if c.Delivery.BatchTimeout == 0 {
		c.Delivery.BatchTimeout = Duration(DefaultBatchTimeout)
	}

	if c.Delivery.RegisterTimeout == 0 {
		c.Delivery.RegisterTimeout = Duration(DefaultRegisterTimeout)
	}

	if c.Delivery.SendDelay == 0 {
		c.Delivery.SendDelay = Duration(DefaultSendDelay)
	}

	if c.PollInterval == 0 {
		c.PollInterval = Duration(DefaultPollInterval)
	}

	if c.DrainMinBytes == 0 {
		c.DrainMinBytes = DefaultDrainMinBytes
	}

	if c.Capture.StopGrace == 0 {
		c.Capture.StopGrace = Duration(DefaultStopGrace)
	}

	if c.Offline.Dir == "" {
		c.Offline.Dir = "offline_data"
	}
}
