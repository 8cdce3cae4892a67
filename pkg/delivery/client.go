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

// Package delivery sends flow batches to the collector over HTTP. Delivery
// is at-least-once: a batch whose acknowledgement is lost may be sent again
// later, and the collector deduplicates by flow_id if exactly-once matters.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/flowsentry/flowsentry/pkg/logger"
	"github.com/flowsentry/flowsentry/pkg/models"
)

const (
	registerPath = "/api/register-device"
	batchPath    = "/api/batch-flows"
)

var errUnexpectedStatusCode = errors.New("unexpected status code")

// Client is the collector-facing HTTP client. Data batches and lightweight
// calls (registration, liveness probe) use separate bounded timeouts.
type Client struct {
	serverURL string
	batch     *http.Client
	quick     *http.Client
	log       logger.Logger
}

// NewClient creates a client for the collector at cfg.ServerURL.
func NewClient(cfg models.DeliveryConfig, log logger.Logger) *Client {
	return &Client{
		serverURL: strings.TrimRight(cfg.ServerURL, "/"),
		batch:     &http.Client{Timeout: cfg.BatchTimeout.Duration()},
		quick:     &http.Client{Timeout: cfg.RegisterTimeout.Duration()},
		log:       log.WithComponent("delivery"),
	}
}

// Register announces this device to the collector. Failure is not fatal;
// the agent keeps capturing and queues batches offline.
func (c *Client) Register(ctx context.Context, device models.DeviceInfo) error {
	return c.postJSON(ctx, c.quick, registerPath, device)
}

// SendBatch delivers one batch in a single bounded network call. A non-2xx
// response and a transport error are the same outcome: the caller persists
// the batch for retry.
func (c *Client) SendBatch(ctx context.Context, batch *models.Batch) error {
	return c.postJSON(ctx, c.batch, batchPath, batch)
}

// Probe checks collector liveness with a GET on the service root.
func (c *Client) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+"/", http.NoBody)
	if err != nil {
		return err
	}

	resp, err := c.quick.Do(req)
	if err != nil {
		return err
	}
	defer c.closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d", errUnexpectedStatusCode, resp.StatusCode)
	}

	return nil
}

func (c *Client) postJSON(ctx context.Context, client *http.Client, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer c.closeBody(resp)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: %d from %s", errUnexpectedStatusCode, resp.StatusCode, path)
	}

	var ack struct {
		Message string `json:"message"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&ack); err == nil && ack.Message != "" {
		c.log.Debug().Str("message", ack.Message).Str("path", path).Msg("Collector acknowledged")
	}

	return nil
}

func (c *Client) closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		c.log.Debug().Err(err).Msg("Failed to close response body")
	}
}
