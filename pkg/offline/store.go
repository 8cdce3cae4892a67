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

// Package offline durably stores batches that failed delivery, one JSON
// file per batch, and redelivers them when the collector is reachable
// again. Entries are never expired automatically; retention is an operator
// concern, and the queue depth is exported as a metric so it stays visible.
package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/flowsentry/flowsentry/pkg/logger"
	"github.com/flowsentry/flowsentry/pkg/metrics"
	"github.com/flowsentry/flowsentry/pkg/models"
)

const entryPrefix = "batch_"

// Sender redelivers one persisted batch; satisfied by the delivery client.
type Sender interface {
	SendBatch(ctx context.Context, batch *models.Batch) error
}

// Store is the durable offline queue. A single agent instance owns the
// directory; concurrent agents sharing one store would need file locking
// and are out of scope.
type Store struct {
	dir string
	log logger.Logger

	mu      sync.Mutex
	lastSec int64
	seq     int
}

// NewStore creates a store rooted at dir. The directory itself is created
// on first persist.
func NewStore(dir string, log logger.Logger) *Store {
	return &Store{
		dir: dir,
		log: log.WithComponent("offline"),
	}
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// Persist writes the exact JSON envelope that would have been POSTed, under
// a collision-resistant name encoding the creation time.
func (s *Store) Persist(batch *models.Batch) error {
	data, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal offline batch: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("create offline dir: %w", err)
	}

	name := s.nextEntryName(time.Now())

	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o600); err != nil {
		return fmt.Errorf("write offline entry: %w", err)
	}

	s.log.Info().
		Str("entry", name).
		Int("flows", len(batch.Flows)).
		Msg("Batch stored offline")

	s.updateGauges()

	return nil
}

// nextEntryName yields batch_<unixsec>_<n>.json with n disambiguating
// multiple failures within the same second.
func (s *Store) nextEntryName(now time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	sec := now.Unix()
	if sec <= s.lastSec {
		sec = s.lastSec
		s.seq++
	} else {
		s.lastSec = sec
		s.seq = 0
	}

	return fmt.Sprintf("%s%d_%d.json", entryPrefix, sec, s.seq)
}

type entry struct {
	name string
	sec  int64
	seq  int
	size int64
}

// entries lists stored batches ordered by encoded creation time. Directory
// enumeration order is never trusted to be chronological.
func (s *Store) entries() ([]entry, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("read offline dir: %w", err)
	}

	list := make([]entry, 0, len(dirents))

	for _, de := range dirents {
		if de.IsDir() {
			continue
		}

		name := de.Name()

		sec, seq, ok := parseEntryName(name)
		if !ok {
			continue
		}

		var size int64
		if info, infoErr := de.Info(); infoErr == nil {
			size = info.Size()
		}

		list = append(list, entry{name: name, sec: sec, seq: seq, size: size})
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].sec != list[j].sec {
			return list[i].sec < list[j].sec
		}

		if list[i].seq != list[j].seq {
			return list[i].seq < list[j].seq
		}

		return list[i].name < list[j].name
	})

	return list, nil
}

func parseEntryName(name string) (sec int64, seq int, ok bool) {
	if !strings.HasPrefix(name, entryPrefix) || !strings.HasSuffix(name, ".json") {
		return 0, 0, false
	}

	core := strings.TrimSuffix(strings.TrimPrefix(name, entryPrefix), ".json")

	parts := strings.SplitN(core, "_", 2)

	sec, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}

	if len(parts) == 2 {
		seq, err = strconv.Atoi(parts[1])
		if err != nil {
			return 0, 0, false
		}
	}

	return sec, seq, true
}

// RetryAll attempts redelivery of every stored entry in creation order.
// Entries are deleted only on confirmed success and left untouched on
// failure, so the call is safe to repeat. Returns the number of entries
// redelivered.
func (s *Store) RetryAll(ctx context.Context, sender Sender) (int, error) {
	list, err := s.entries()
	if err != nil {
		return 0, err
	}

	if len(list) == 0 {
		return 0, nil
	}

	s.log.Info().Int("pending", len(list)).Msg("Retrying offline batches")

	success := 0

	for _, e := range list {
		if ctx.Err() != nil {
			break
		}

		path := filepath.Join(s.dir, e.name)

		data, err := os.ReadFile(path)
		if err != nil {
			s.log.Warn().Err(err).Str("entry", e.name).Msg("Failed to read offline entry")
			continue
		}

		var batch models.Batch
		if err := json.Unmarshal(data, &batch); err != nil {
			s.log.Warn().Err(err).Str("entry", e.name).Msg("Corrupt offline entry, skipping")
			continue
		}

		if err := sender.SendBatch(ctx, &batch); err != nil {
			s.log.Debug().Err(err).Str("entry", e.name).Msg("Offline entry still undeliverable")
			continue
		}

		if err := os.Remove(path); err != nil {
			s.log.Warn().Err(err).Str("entry", e.name).Msg("Failed to remove delivered entry")
			continue
		}

		metrics.BatchesRetried.Inc()

		success++

		s.log.Info().Str("entry", e.name).Int("flows", len(batch.Flows)).Msg("Offline batch redelivered")
	}

	s.updateGauges()

	return success, nil
}

// PendingCount reports the number of entries awaiting redelivery.
func (s *Store) PendingCount() int {
	list, err := s.entries()
	if err != nil {
		return 0
	}

	return len(list)
}

// Purge removes every stored entry. Operator-initiated; the pipeline never
// expires entries on its own.
func (s *Store) Purge() error {
	list, err := s.entries()
	if err != nil {
		return err
	}

	for _, e := range list {
		if err := os.Remove(filepath.Join(s.dir, e.name)); err != nil {
			return fmt.Errorf("remove offline entry %s: %w", e.name, err)
		}
	}

	s.updateGauges()

	return nil
}

func (s *Store) updateGauges() {
	list, err := s.entries()
	if err != nil {
		return
	}

	var bytes int64
	for _, e := range list {
		bytes += e.size
	}

	metrics.OfflineQueueDepth.Set(float64(len(list)))
	metrics.OfflineQueueBytes.Set(float64(bytes))
}
