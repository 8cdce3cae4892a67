package delivery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsentry/flowsentry/pkg/logger"
	"github.com/flowsentry/flowsentry/pkg/models"
)

var errSendRefused = errors.New("send refused")

type fakeSender struct {
	batches []*models.Batch
	failAll bool
}

func (f *fakeSender) SendBatch(_ context.Context, batch *models.Batch) error {
	if f.failAll {
		return errSendRefused
	}

	f.batches = append(f.batches, batch)

	return nil
}

type fakeStore struct {
	persisted []*models.Batch
	err       error
}

func (f *fakeStore) Persist(batch *models.Batch) error {
	if f.err != nil {
		return f.err
	}

	f.persisted = append(f.persisted, batch)

	return nil
}

func makeRecords(n int) []*models.FlowRecord {
	records := make([]*models.FlowRecord, n)
	for i := range records {
		records[i] = &models.FlowRecord{
			FlowID:   fmt.Sprintf("dev1_1_%d", i),
			DeviceID: "dev1",
		}
	}

	return records
}

func newTestDispatcher(sender BatchSender, store FailureStore, batchSize int) *Dispatcher {
	return NewDispatcher(sender, store, testDevice(), batchSize, 0, logger.NewTestLogger())
}

func TestDispatchAllBatchesInOrder(t *testing.T) {
	sender := &fakeSender{}
	store := &fakeStore{}
	d := newTestDispatcher(sender, store, 20)

	sent, queued := d.DispatchAll(context.Background(), makeRecords(45))

	assert.Equal(t, 3, sent)
	assert.Zero(t, queued)
	require.Len(t, sender.batches, 3)

	// 20 + 20 + 5: the short tail is still delivered.
	assert.Len(t, sender.batches[0].Flows, 20)
	assert.Len(t, sender.batches[1].Flows, 20)
	assert.Len(t, sender.batches[2].Flows, 5)

	// Construction order is preserved across batches.
	assert.Equal(t, "dev1_1_0", sender.batches[0].Flows[0].FlowID)
	assert.Equal(t, "dev1_1_20", sender.batches[1].Flows[0].FlowID)
	assert.Equal(t, "dev1_1_44", sender.batches[2].Flows[4].FlowID)
}

func TestDispatchAllQueuesFailuresWhole(t *testing.T) {
	sender := &fakeSender{failAll: true}
	store := &fakeStore{}
	d := newTestDispatcher(sender, store, 20)

	sent, queued := d.DispatchAll(context.Background(), makeRecords(25))

	assert.Zero(t, sent)
	assert.Equal(t, 2, queued)
	require.Len(t, store.persisted, 2)

	// Batches are persisted whole, never split on failure.
	assert.Len(t, store.persisted[0].Flows, 20)
	assert.Len(t, store.persisted[1].Flows, 5)
	assert.Equal(t, "dev1", store.persisted[0].DeviceID)
}

func TestDispatchAllEmptyInput(t *testing.T) {
	sender := &fakeSender{}
	d := newTestDispatcher(sender, &fakeStore{}, 20)

	sent, queued := d.DispatchAll(context.Background(), nil)

	assert.Zero(t, sent)
	assert.Zero(t, queued)
	assert.Empty(t, sender.batches)
}

func TestDispatchAllPersistFailureDropsRecords(t *testing.T) {
	sender := &fakeSender{failAll: true}
	store := &fakeStore{err: errors.New("disk full")}
	d := newTestDispatcher(sender, store, 20)

	// Must not panic or retry forever; the loss is logged, and a batch
	// that is neither delivered nor stored counts in neither return.
	sent, queued := d.DispatchAll(context.Background(), makeRecords(5))

	assert.Zero(t, sent)
	assert.Zero(t, queued)
}

func TestDispatchAllCancelledContextQueuesRemainder(t *testing.T) {
	sender := &fakeSender{}
	store := &fakeStore{}
	d := NewDispatcher(sender, store, testDevice(), 10, time.Second, logger.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sent, queued := d.DispatchAll(ctx, makeRecords(25))

	// First batch goes out (send does not check ctx in the fake), the
	// remainder is persisted for retry instead of being dropped. The
	// remainder obeys the batch size bound: 15 records become 10 + 5,
	// never one oversized entry.
	assert.Equal(t, 1, sent)
	assert.Equal(t, 2, queued)
	require.Len(t, store.persisted, 2)
	assert.Len(t, store.persisted[0].Flows, 10)
	assert.Len(t, store.persisted[1].Flows, 5)

	// Record order is preserved across the persisted chunks.
	assert.Equal(t, "dev1_1_10", store.persisted[0].Flows[0].FlowID)
	assert.Equal(t, "dev1_1_20", store.persisted[1].Flows[0].FlowID)
}
