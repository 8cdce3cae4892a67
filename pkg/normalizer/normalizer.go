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

// Package normalizer turns raw capture rows into typed flow records. Each
// drain consumes the capture output file and truncates it in place so the
// capture tool keeps appending without a restart.
package normalizer

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"time"

	"github.com/flowsentry/flowsentry/pkg/logger"
	"github.com/flowsentry/flowsentry/pkg/metrics"
	"github.com/flowsentry/flowsentry/pkg/models"
)

// Normalizer reads newly captured rows and converts them into FlowRecords.
// It is not safe for concurrent use; the agent's single polling loop is the
// only caller.
type Normalizer struct {
	deviceID string
	path     string
	minBytes int64
	log      logger.Logger
	now      func() time.Time

	// flow ID state: seq increments within one wall-clock second and the
	// second never moves backwards, so (second, seq) pairs are unique for
	// the process lifetime.
	lastSecond int64
	seq        int
}

// New creates a normalizer for the capture output at path. minBytes guards
// against draining an empty or just-created file.
func New(deviceID, path string, minBytes int64, log logger.Logger) *Normalizer {
	return &Normalizer{
		deviceID: deviceID,
		path:     path,
		minBytes: minBytes,
		log:      log.WithComponent("normalizer"),
		now:      time.Now,
	}
}

// Drain reads all rows currently in the capture output, converts them into
// flow records, and truncates the file. A missing or below-threshold file
// yields no records and no error. A malformed file is reported but leaves
// the file untouched for the next poll.
func (n *Normalizer) Drain(ctx context.Context) ([]*models.FlowRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(n.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		metrics.DrainErrors.Inc()

		return nil, fmt.Errorf("stat capture output: %w", err)
	}

	if info.Size() <= n.minBytes {
		return nil, nil
	}

	f, err := os.Open(n.path)
	if err != nil {
		metrics.DrainErrors.Inc()
		return nil, fmt.Errorf("open capture output: %w", err)
	}

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1 // capture output rows can be ragged

	rows, err := reader.ReadAll()

	closeErr := f.Close()

	if err != nil {
		metrics.DrainErrors.Inc()
		return nil, fmt.Errorf("read capture output: %w", err)
	}

	if closeErr != nil {
		n.log.Warn().Err(closeErr).Msg("Failed to close capture output")
	}

	if len(rows) < 2 {
		// Header only; nothing to normalize, nothing to truncate yet.
		return nil, nil
	}

	header := rows[0]
	records := make([]*models.FlowRecord, 0, len(rows)-1)

	for _, row := range rows[1:] {
		records = append(records, n.normalizeRow(header, row))
	}

	if err := os.Truncate(n.path, 0); err != nil {
		// The rows were normalized, but the next drain would duplicate
		// them. Surface the failure instead of shipping duplicates.
		metrics.DrainErrors.Inc()
		return nil, fmt.Errorf("truncate capture output: %w", err)
	}

	metrics.FlowsNormalized.Add(float64(len(records)))

	n.log.Debug().
		Int("rows", len(records)).
		Int64("bytes", info.Size()).
		Msg("Drained capture output")

	return records, nil
}

func (n *Normalizer) normalizeRow(header, row []string) *models.FlowRecord {
	now := n.now()

	fields := make(map[string]models.FieldValue, len(header))

	for i, name := range header {
		if i >= len(row) {
			break
		}

		fields[name] = models.ParseFieldValue(row[i])
	}

	return &models.FlowRecord{
		FlowID:         n.nextFlowID(now),
		DeviceID:       n.deviceID,
		CapturedAt:     now.UTC(),
		LocalTimestamp: models.NewLocalTimestamp(now),
		Fields:         fields,
	}
}

// nextFlowID builds <device>_<epochsec>_<seq>. The second component is
// clamped monotonic so records from the same device never collide even if
// the wall clock steps backwards.
func (n *Normalizer) nextFlowID(now time.Time) string {
	second := now.UTC().Unix()

	if second <= n.lastSecond {
		second = n.lastSecond
		n.seq++
	} else {
		n.lastSecond = second
		n.seq = 0
	}

	return fmt.Sprintf("%s_%d_%d", n.deviceID, second, n.seq)
}
