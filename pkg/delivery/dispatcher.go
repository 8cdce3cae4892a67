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

package delivery

import (
	"context"
	"time"

	"github.com/flowsentry/flowsentry/pkg/logger"
	"github.com/flowsentry/flowsentry/pkg/metrics"
	"github.com/flowsentry/flowsentry/pkg/models"
)

// BatchSender delivers one batch; implemented by Client.
type BatchSender interface {
	SendBatch(ctx context.Context, batch *models.Batch) error
}

// FailureStore durably persists a batch that could not be delivered;
// implemented by the offline store.
type FailureStore interface {
	Persist(batch *models.Batch) error
}

// Dispatcher groups flow records into fixed-size batches and sends them
// strictly in construction order. Batches from one agent are never in
// flight concurrently, so per-device ordering is preserved.
type Dispatcher struct {
	sender    BatchSender
	store     FailureStore
	device    models.DeviceInfo
	batchSize int
	sendDelay time.Duration
	log       logger.Logger
	now       func() time.Time
}

// NewDispatcher wires a dispatcher. batchSize below 1 falls back to the
// default.
func NewDispatcher(sender BatchSender, store FailureStore, device models.DeviceInfo,
	batchSize int, sendDelay time.Duration, log logger.Logger) *Dispatcher {
	if batchSize < 1 {
		batchSize = models.DefaultBatchSize
	}

	return &Dispatcher{
		sender:    sender,
		store:     store,
		device:    device,
		batchSize: batchSize,
		sendDelay: sendDelay,
		log:       log.WithComponent("dispatcher"),
		now:       time.Now,
	}
}

// DispatchAll slices records into batches and delivers each one. A short
// final partial batch is still sent, never dropped. Failed batches are
// persisted whole to the failure store; sent and queued report how many
// batches were delivered and how many are durably stored for retry. A
// batch that fails both delivery and storage counts in neither.
func (d *Dispatcher) DispatchAll(ctx context.Context, records []*models.FlowRecord) (sent, queued int) {
	for start := 0; start < len(records); start += d.batchSize {
		end := start + d.batchSize
		if end > len(records) {
			end = len(records)
		}

		batch := models.NewBatch(d.device, records[start:end], d.now())

		delivered, stored := d.dispatchOne(ctx, batch)

		switch {
		case delivered:
			sent++
		case stored:
			queued++
		}

		// Bound the agent's send rate between successive batches.
		if end < len(records) {
			if !sleepCtx(ctx, d.sendDelay) {
				// Context cancelled: queue the remainder rather than
				// dropping it on the floor.
				queued += d.persistAll(records[end:])
				return sent, queued
			}
		}
	}

	return sent, queued
}

func (d *Dispatcher) dispatchOne(ctx context.Context, batch *models.Batch) (delivered, stored bool) {
	err := d.sender.SendBatch(ctx, batch)
	if err == nil {
		metrics.BatchesSent.Inc()

		d.log.Info().
			Int("flows", len(batch.Flows)).
			Msg("Batch delivered")

		return true, false
	}

	d.log.Warn().
		Err(err).
		Int("flows", len(batch.Flows)).
		Msg("Batch delivery failed, storing offline")

	return false, d.persist(batch)
}

// persistAll stores the records offline in batch-size chunks, so offline
// entries obey the same size bound as delivered batches. Returns how many
// batches were durably stored.
func (d *Dispatcher) persistAll(records []*models.FlowRecord) int {
	stored := 0

	for start := 0; start < len(records); start += d.batchSize {
		end := start + d.batchSize
		if end > len(records) {
			end = len(records)
		}

		if d.persist(models.NewBatch(d.device, records[start:end], d.now())) {
			stored++
		}
	}

	return stored
}

func (d *Dispatcher) persist(batch *models.Batch) bool {
	metrics.BatchesFailed.Inc()

	if err := d.store.Persist(batch); err != nil {
		// Both delivery and durable storage failed; these flows are lost.
		d.log.Error().
			Err(err).
			Int("flows", len(batch.Flows)).
			Msg("Failed to persist batch offline, records dropped")

		return false
	}

	return true
}

// sleepCtx sleeps for a duration unless the context ends first, reporting
// whether the full sleep elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
