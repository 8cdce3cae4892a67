package capture

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

// writeFakeTool creates an executable shell script standing in for pcap2csv.
func writeFakeTool(t *testing.T, script string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "pcap2csv")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))

	return path
}

func TestNewSupervisorMissingBinary(t *testing.T) {
	_, err := NewSupervisor(models.CaptureConfig{
		Binary: filepath.Join(t.TempDir(), "no-such-binary"),
	}, logger.NewTestLogger())

	assert.ErrorIs(t, err, ErrBinaryMissing)
}

func TestSupervisorBatchModeRunsToCompletion(t *testing.T) {
	out := filepath.Join(t.TempDir(), "flows.csv")
	tool := writeFakeTool(t, `echo "converted $*"; touch "$2"; exit 0`)

	sup, err := NewSupervisor(models.CaptureConfig{
		Binary:     tool,
		PcapFile:   "capture.pcap",
		OutputPath: out,
	}, logger.NewTestLogger())
	require.NoError(t, err)

	assert.True(t, sup.BatchMode())
	assert.Equal(t, out, sup.OutputPath())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, sup.Start(ctx))
	require.NoError(t, sup.Wait(ctx))
	assert.False(t, sup.Alive())
}

func TestSupervisorLiveModeStop(t *testing.T) {
	tool := writeFakeTool(t, `trap 'exit 0' TERM; sleep 60 & wait`)

	sup, err := NewSupervisor(models.CaptureConfig{
		Binary:    tool,
		Interface: "eth0",
		StopGrace: models.Duration(2 * time.Second),
	}, logger.NewTestLogger())
	require.NoError(t, err)

	assert.False(t, sup.BatchMode())

	ctx := context.Background()
	require.NoError(t, sup.Start(ctx))

	require.Eventually(t, sup.Alive, time.Second, 10*time.Millisecond)

	sup.Stop(ctx)

	assert.Eventually(t, func() bool { return !sup.Alive() }, 3*time.Second, 20*time.Millisecond)
}

func TestSupervisorContextCancelTerminatesGracefully(t *testing.T) {
	// The tool records whether it was asked to terminate. A hard kill on
	// context cancellation would leave no marker behind.
	marker := filepath.Join(t.TempDir(), "marker")
	tool := writeFakeTool(t, `trap 'echo done > "`+marker+`"; exit 0' TERM; sleep 60 & wait`)

	sup, err := NewSupervisor(models.CaptureConfig{
		Binary:    tool,
		StopGrace: models.Duration(2 * time.Second),
	}, logger.NewTestLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, sup.Start(ctx))
	require.Eventually(t, sup.Alive, time.Second, 10*time.Millisecond)

	cancel()

	require.Eventually(t, func() bool { return !sup.Alive() }, 3*time.Second, 20*time.Millisecond)

	assert.FileExists(t, marker, "capture tool should be terminated, not hard-killed")

	// Stop after the process is already gone is a no-op.
	sup.Stop(context.Background())
}

func TestSupervisorRelaunchAfterExit(t *testing.T) {
	tool := writeFakeTool(t, `exit 1`)

	sup, err := NewSupervisor(models.CaptureConfig{Binary: tool}, logger.NewTestLogger())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sup.Start(ctx))

	require.Eventually(t, func() bool { return !sup.Alive() }, 2*time.Second, 10*time.Millisecond)

	// Relaunch with identical arguments, as the live loop does.
	require.NoError(t, sup.Start(ctx))
	require.Eventually(t, func() bool { return !sup.Alive() }, 2*time.Second, 10*time.Millisecond)
}

func TestSupervisorStartWhileRunning(t *testing.T) {
	tool := writeFakeTool(t, `sleep 30`)

	sup, err := NewSupervisor(models.CaptureConfig{Binary: tool}, logger.NewTestLogger())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sup.Start(ctx))

	defer sup.Stop(ctx)

	assert.ErrorIs(t, sup.Start(ctx), errAlreadyRunning)
}

func TestSupervisorDefaultOutputPath(t *testing.T) {
	tool := writeFakeTool(t, `exit 0`)

	sup, err := NewSupervisor(models.CaptureConfig{Binary: tool}, logger.NewTestLogger())
	require.NoError(t, err)

	assert.NotEmpty(t, sup.OutputPath())
	assert.Equal(t, "flows.csv", filepath.Base(sup.OutputPath()))
}
