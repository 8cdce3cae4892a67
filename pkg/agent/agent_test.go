package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsentry/flowsentry/pkg/logger"
	"github.com/flowsentry/flowsentry/pkg/models"
)

const captureCSV = "FlowDuration,SrcIP,DstIP,PktsPerSec\n" +
	"120,10.0.0.1,93.184.216.34,3.5\n" +
	"450,10.0.0.2,142.250.74.36,8.1\n"

// writeCaptureTool creates a stand-in for the capture executable. It writes
// a fixed CSV to the -o path; in live mode it then stays alive until
// terminated.
func writeCaptureTool(t *testing.T, live bool) string {
	t.Helper()

	script := "#!/bin/sh\nprintf '" + captureCSV + "' > \"$2\"\n"
	if live {
		script += "exec sleep 60\n"
	}

	path := filepath.Join(t.TempDir(), "pcap2csv")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o700))

	return path
}

// collector records everything the agent sends.
type collector struct {
	mu         sync.Mutex
	registered []models.DeviceInfo
	batches    []*models.Batch
	rejectAll  bool
}

func (c *collector) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/register-device", func(w http.ResponseWriter, r *http.Request) {
		var device models.DeviceInfo
		if err := json.NewDecoder(r.Body).Decode(&device); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		c.mu.Lock()
		c.registered = append(c.registered, device)
		c.mu.Unlock()

		_ = json.NewEncoder(w).Encode(map[string]string{"message": "registered"})
	})

	mux.HandleFunc("/api/batch-flows", func(w http.ResponseWriter, r *http.Request) {
		if c.rejectAll {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		var batch models.Batch
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		c.mu.Lock()
		c.batches = append(c.batches, &batch)
		c.mu.Unlock()

		_ = json.NewEncoder(w).Encode(map[string]string{"message": "accepted"})
	})

	return mux
}

func (c *collector) batchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.batches)
}

func testConfig(t *testing.T, serverURL, binary string) *models.AgentConfig {
	t.Helper()

	cfg := &models.AgentConfig{
		Capture: models.CaptureConfig{
			Binary:     binary,
			OutputPath: filepath.Join(t.TempDir(), "flows.csv"),
			StopGrace:  models.Duration(time.Second),
		},
		Delivery: models.DeliveryConfig{
			ServerURL: serverURL,
			SendDelay: models.Duration(time.Millisecond),
		},
		Offline: models.OfflineConfig{
			Dir: filepath.Join(t.TempDir(), "offline_data"),
		},
		PollInterval:  models.Duration(50 * time.Millisecond),
		DrainMinBytes: 1,
	}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	return cfg
}

func TestRunLiveCapturesAndDelivers(t *testing.T) {
	coll := &collector{}
	server := httptest.NewServer(coll.handler())
	defer server.Close()

	cfg := testConfig(t, server.URL, writeCaptureTool(t, true))
	cfg.CaptureDuration = models.Duration(400 * time.Millisecond)

	a, err := New(context.Background(), cfg, logger.NewTestLogger())
	require.NoError(t, err)

	require.NoError(t, a.Run(context.Background()))

	coll.mu.Lock()
	defer coll.mu.Unlock()

	require.Len(t, coll.registered, 1)
	assert.Equal(t, a.Device().DeviceID, coll.registered[0].DeviceID)
	assert.Equal(t, "active", coll.registered[0].Status)

	require.NotEmpty(t, coll.batches)
	batch := coll.batches[0]
	require.Len(t, batch.Flows, 2)
	assert.Equal(t, a.Device().DeviceID, batch.DeviceID)
	assert.Equal(t, models.IntValue(120), batch.Flows[0].Fields["FlowDuration"])
	assert.Equal(t, models.StringValue("10.0.0.1"), batch.Flows[0].Fields["SrcIP"])

	// Delivered batches never linger in the offline queue.
	assert.Zero(t, a.Store().PendingCount())
}

func TestRunBatchModeConvertsAndExits(t *testing.T) {
	coll := &collector{}
	server := httptest.NewServer(coll.handler())
	defer server.Close()

	cfg := testConfig(t, server.URL, writeCaptureTool(t, false))
	cfg.Capture.PcapFile = filepath.Join(t.TempDir(), "input.pcap")

	a, err := New(context.Background(), cfg, logger.NewTestLogger())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("batch mode run did not terminate")
	}

	require.Equal(t, 1, coll.batchCount())
	assert.Len(t, coll.batches[0].Flows, 2)
}

func TestRunQueuesOfflineWhenCollectorRejects(t *testing.T) {
	coll := &collector{rejectAll: true}
	server := httptest.NewServer(coll.handler())
	defer server.Close()

	cfg := testConfig(t, server.URL, writeCaptureTool(t, true))
	cfg.CaptureDuration = models.Duration(400 * time.Millisecond)

	a, err := New(context.Background(), cfg, logger.NewTestLogger())
	require.NoError(t, err)

	require.NoError(t, a.Run(context.Background()))

	// Flows survive the rejected delivery as offline entries.
	assert.Positive(t, a.Store().PendingCount())
	assert.Zero(t, coll.batchCount())
}

func TestRunRetriesOfflineBacklogFirst(t *testing.T) {
	coll := &collector{}
	server := httptest.NewServer(coll.handler())
	defer server.Close()

	cfg := testConfig(t, server.URL, writeCaptureTool(t, true))
	cfg.CaptureDuration = models.Duration(400 * time.Millisecond)

	a, err := New(context.Background(), cfg, logger.NewTestLogger())
	require.NoError(t, err)

	// A previous run left one batch behind.
	stranded := models.NewBatch(a.Device(), []*models.FlowRecord{
		{FlowID: "dev1_1_0", DeviceID: a.Device().DeviceID},
	}, time.Now())
	require.NoError(t, a.Store().Persist(stranded))

	require.NoError(t, a.Run(context.Background()))

	assert.Zero(t, a.Store().PendingCount())

	coll.mu.Lock()
	defer coll.mu.Unlock()

	// The stranded batch goes out before anything newly captured.
	require.NotEmpty(t, coll.batches)
	assert.Equal(t, "dev1_1_0", coll.batches[0].Flows[0].FlowID)
}

func TestNewRejectsMissingBinary(t *testing.T) {
	cfg := testConfig(t, "http://localhost:1", filepath.Join(t.TempDir(), "missing"))

	_, err := New(context.Background(), cfg, logger.NewTestLogger())
	assert.Error(t, err)
}

func TestNewRejectsBrokenClassifierArtifacts(t *testing.T) {
	cfg := testConfig(t, "http://localhost:1", writeCaptureTool(t, true))
	cfg.Classifier = models.ClassifierConfig{
		Enabled:    true,
		ScalerPath: filepath.Join(t.TempDir(), "missing-scaler.json"),
		ModelPath:  filepath.Join(t.TempDir(), "missing-model.json"),
	}

	_, err := New(context.Background(), cfg, logger.NewTestLogger())
	assert.Error(t, err)
}
