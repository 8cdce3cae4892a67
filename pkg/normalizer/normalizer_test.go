package normalizer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsentry/flowsentry/pkg/logger"
	"github.com/flowsentry/flowsentry/pkg/models"
)

const sampleCSV = `SrcIP,DstIP,SrcPort,DstPort,Protocol,FlowDuration,PktsPerSec
10.0.0.1,10.0.0.2,443,51000,TCP,1.25,100
10.0.0.3,10.0.0.4,80,51001,UDP,3,
`

func writeCapture(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "flows.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestDrainConvertsAndTruncates(t *testing.T) {
	path := writeCapture(t, sampleCSV)

	n := New("dev1", path, 0, logger.NewTestLogger())

	records, err := n.Drain(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, "dev1", first.DeviceID)
	assert.Equal(t, models.StringValue("10.0.0.1"), first.Fields["SrcIP"])
	assert.Equal(t, models.IntValue(443), first.Fields["SrcPort"])
	assert.Equal(t, models.StringValue("TCP"), first.Fields["Protocol"])
	assert.Equal(t, models.FloatValue(1.25), first.Fields["FlowDuration"])
	assert.False(t, first.CapturedAt.IsZero())
	assert.NotEmpty(t, first.LocalTimestamp)

	// Empty trailing cell becomes null.
	assert.Equal(t, models.NullValue(), records[1].Fields["PktsPerSec"])

	// The file is truncated, not deleted, so the capture tool can keep
	// appending.
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	// A second drain on the now-empty file yields nothing.
	records, err = n.Drain(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDrainRespectsSizeThreshold(t *testing.T) {
	path := writeCapture(t, "a,b\n")

	n := New("dev1", path, 100, logger.NewTestLogger())

	records, err := n.Drain(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)

	// Below-threshold file is left intact.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestDrainMissingFile(t *testing.T) {
	n := New("dev1", filepath.Join(t.TempDir(), "absent.csv"), 0, logger.NewTestLogger())

	records, err := n.Drain(context.Background())
	require.NoError(t, err)
	assert.Nil(t, records)
}

func TestDrainHeaderOnly(t *testing.T) {
	path := writeCapture(t, "SrcIP,DstIP,Protocol\n")

	n := New("dev1", path, 0, logger.NewTestLogger())

	records, err := n.Drain(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFlowIDsUniqueWithinSameSecond(t *testing.T) {
	path := writeCapture(t, sampleCSV)

	n := New("dev1", path, 0, logger.NewTestLogger())

	// Freeze the clock so both drains land in the same second.
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return fixed }

	first, err := n.Drain(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o600))

	second, err := n.Drain(context.Background())
	require.NoError(t, err)

	seen := make(map[string]struct{})
	for _, rec := range append(first, second...) {
		_, dup := seen[rec.FlowID]
		assert.False(t, dup, "duplicate flow id %s", rec.FlowID)
		seen[rec.FlowID] = struct{}{}
	}
}

func TestFlowIDsMonotonicAcrossClockStepBack(t *testing.T) {
	path := writeCapture(t, sampleCSV)

	n := New("dev1", path, 0, logger.NewTestLogger())

	later := time.Date(2025, 6, 1, 12, 0, 10, 0, time.UTC)
	n.now = func() time.Time { return later }

	first, err := n.Drain(context.Background())
	require.NoError(t, err)

	// Step the clock backwards and drain again.
	earlier := later.Add(-5 * time.Second)
	n.now = func() time.Time { return earlier }

	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o600))

	second, err := n.Drain(context.Background())
	require.NoError(t, err)

	seen := make(map[string]struct{})
	for _, rec := range append(first, second...) {
		_, dup := seen[rec.FlowID]
		assert.False(t, dup, "duplicate flow id %s", rec.FlowID)
		seen[rec.FlowID] = struct{}{}
	}
}

func TestDrainRaggedRows(t *testing.T) {
	path := writeCapture(t, "a,b,c\n1,2\n1,2,3,4\n")

	n := New("dev1", path, 0, logger.NewTestLogger())

	records, err := n.Drain(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.NotContains(t, records[0].Fields, "c")
	assert.Len(t, records[1].Fields, 3)
}
