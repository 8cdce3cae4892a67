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

// Package agent runs the edge flow pipeline: it supervises the capture
// process, drains its output on a fixed cadence, optionally annotates flows
// with a traffic category, and delivers batches to the collector with an
// offline fallback.
package agent

import (
	"context"
	"time"

	"github.com/flowsentry/flowsentry/pkg/capture"
	"github.com/flowsentry/flowsentry/pkg/classifier"
	"github.com/flowsentry/flowsentry/pkg/delivery"
	"github.com/flowsentry/flowsentry/pkg/logger"
	"github.com/flowsentry/flowsentry/pkg/metrics"
	"github.com/flowsentry/flowsentry/pkg/models"
	"github.com/flowsentry/flowsentry/pkg/normalizer"
	"github.com/flowsentry/flowsentry/pkg/offline"
	"github.com/flowsentry/flowsentry/pkg/sysinfo"
)

// Agent owns the capture-to-delivery pipeline for one device. Build it with
// New and drive it with Run; the zero value is not usable.
type Agent struct {
	cfg    *models.AgentConfig
	log    logger.Logger
	device models.DeviceInfo

	supervisor *capture.Supervisor
	norm       *normalizer.Normalizer
	client     *delivery.Client
	dispatcher *delivery.Dispatcher
	store      *offline.Store
	cls        *classifier.Classifier
}

// New wires the pipeline from config. The device identity is derived from
// the host; a classifier is only constructed when enabled, and its
// artifacts failing to load is a configuration error, not something to
// limp past silently.
func New(ctx context.Context, cfg *models.AgentConfig, log logger.Logger) (*Agent, error) {
	identity := sysinfo.DeviceIdentity(ctx)

	device := models.DeviceInfo{
		DeviceID:   identity.ID,
		DeviceName: identity.Name,
		IPAddress:  sysinfo.LocalIP(),
		Location:   cfg.Location,
		Status:     "active",
	}

	supervisor, err := capture.NewSupervisor(cfg.Capture, log)
	if err != nil {
		return nil, err
	}

	client := delivery.NewClient(cfg.Delivery, log)
	store := offline.NewStore(cfg.Offline.Dir, log)

	dispatcher := delivery.NewDispatcher(client, store, device,
		cfg.Delivery.BatchSize, cfg.Delivery.SendDelay.Duration(), log)

	norm := normalizer.New(device.DeviceID, supervisor.OutputPath(), cfg.DrainMinBytes, log)

	var cls *classifier.Classifier

	if cfg.Classifier.Enabled {
		cls, err = classifier.NewFromFiles(cfg.Classifier.ScalerPath, cfg.Classifier.ModelPath, log)
		if err != nil {
			return nil, err
		}
	}

	return &Agent{
		cfg:        cfg,
		log:        log.WithComponent("agent"),
		device:     device,
		supervisor: supervisor,
		norm:       norm,
		client:     client,
		dispatcher: dispatcher,
		store:      store,
		cls:        cls,
	}, nil
}

// Device returns the identity the agent reports to the collector.
func (a *Agent) Device() models.DeviceInfo {
	return a.device
}

// Store exposes the offline queue for operator commands.
func (a *Agent) Store() *offline.Store {
	return a.store
}

// Run executes the pipeline until ctx is cancelled or, in batch mode, until
// the capture tool finishes. On the way out it drains and dispatches one
// final time so rows captured just before shutdown are not stranded.
func (a *Agent) Run(ctx context.Context) error {
	// Registration is best effort. The collector learns about the device on
	// the first batch anyway; an unreachable collector must not stop capture.
	if err := a.client.Register(ctx, a.device); err != nil {
		a.log.Warn().Err(err).Msg("Device registration failed, continuing")
	} else {
		a.log.Info().Str("device_id", a.device.DeviceID).Msg("Device registered")
	}

	if err := a.client.Probe(ctx); err != nil {
		a.log.Warn().Err(err).Msg("Collector not reachable, batches will queue offline")
	}

	// Flush anything a previous run left behind before producing new data,
	// so old batches go out ahead of new ones.
	if n, err := a.store.RetryAll(ctx, a.client); err != nil {
		a.log.Warn().Err(err).Msg("Offline retry failed")
	} else if n > 0 {
		a.log.Info().Int("batches", n).Msg("Offline backlog delivered")
	}

	if err := a.supervisor.Start(ctx); err != nil {
		return err
	}

	if a.supervisor.BatchMode() {
		return a.runBatch(ctx)
	}

	return a.runLive(ctx)
}

// runBatch waits for the capture tool to convert its input file, then ships
// everything it produced in one pass.
func (a *Agent) runBatch(ctx context.Context) error {
	if err := a.supervisor.Wait(ctx); err != nil {
		a.log.Warn().Err(err).Msg("Capture process exited with error")
	}

	a.cycle(ctx)

	return nil
}

// runLive polls the capture output on a fixed cadence and restarts the
// capture process if it dies. An optional capture duration bounds the run.
func (a *Agent) runLive(ctx context.Context) error {
	if d := a.cfg.CaptureDuration.Duration(); d > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	interval := a.cfg.PollInterval.Duration()
	if interval <= 0 {
		interval = models.DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.log.Info().
		Dur("poll_interval", interval).
		Str("output", a.supervisor.OutputPath()).
		Msg("Agent running")

	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return nil
		case <-ticker.C:
			a.cycle(ctx)
			a.checkCapture(ctx)
		}
	}
}

// cycle performs one drain-annotate-dispatch pass.
func (a *Agent) cycle(ctx context.Context) {
	records, err := a.norm.Drain(ctx)
	if err != nil {
		a.log.Error().Err(err).Msg("Drain failed")
		return
	}

	if len(records) == 0 {
		return
	}

	a.annotate(records)

	sent, queued := a.dispatcher.DispatchAll(ctx, records)

	a.log.Info().
		Int("flows", len(records)).
		Int("batches_sent", sent).
		Int("batches_queued", queued).
		Msg("Dispatch cycle complete")
}

// annotate adds a Prediction field to each record when local classification
// is enabled. No trailing window is applied here; the agent annotates every
// drained row and leaves windowed analysis to the offline tool.
func (a *Agent) annotate(records []*models.FlowRecord) {
	if a.cls == nil {
		return
	}

	table := a.cls.Classify(classifier.FromRecords(records), 0)

	preds := table.Column(classifier.PredictionColumn)
	if len(preds) != len(records) {
		return
	}

	for i, rec := range records {
		rec.Fields[classifier.PredictionColumn] = preds[i]
	}
}

// checkCapture restarts the capture process when it has died under a live
// run. The output file survives a restart, so no captured rows are lost.
func (a *Agent) checkCapture(ctx context.Context) {
	if ctx.Err() != nil || a.supervisor.Alive() {
		return
	}

	a.log.Warn().Msg("Capture process died, restarting")
	metrics.CaptureRestarts.Inc()

	if err := a.supervisor.Start(ctx); err != nil {
		a.log.Error().Err(err).Msg("Capture restart failed")
	}
}

// shutdown flushes captured rows and stops the capture process. It runs
// with its own deadline because the run context is already cancelled.
func (a *Agent) shutdown() {
	a.log.Info().Msg("Agent stopping")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a.supervisor.Stop(ctx)
	a.cycle(ctx)
}
