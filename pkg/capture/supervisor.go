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

// Package capture supervises the external pcap2csv process that turns
// packets into flow rows. The supervisor never reads the output file; it
// only keeps the process alive and exposes where the rows land.
package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/flowsentry/flowsentry/pkg/logger"
	"github.com/flowsentry/flowsentry/pkg/models"
)

var (
	// ErrBinaryMissing is fatal for the run: with no capture executable
	// there is nothing useful to restart.
	ErrBinaryMissing = errors.New("capture binary not found")

	errNotStarted     = errors.New("capture process not started")
	errAlreadyRunning = errors.New("capture process already running")
)

// Supervisor launches and monitors the external capture process.
type Supervisor struct {
	cfg    models.CaptureConfig
	log    logger.Logger
	output string

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
	exit error
}

// NewSupervisor validates the capture binary and resolves the output path.
// A missing binary is reported immediately rather than at first start.
func NewSupervisor(cfg models.CaptureConfig, log logger.Logger) (*Supervisor, error) {
	if _, err := os.Stat(cfg.Binary); err != nil {
		if path, lookErr := exec.LookPath(cfg.Binary); lookErr == nil {
			cfg.Binary = path
		} else {
			return nil, fmt.Errorf("%w: %s", ErrBinaryMissing, cfg.Binary)
		}
	}

	output := cfg.OutputPath
	if output == "" {
		dir, err := os.MkdirTemp("", "flowsentry-capture-")
		if err != nil {
			return nil, fmt.Errorf("create capture output dir: %w", err)
		}

		output = filepath.Join(dir, "flows.csv")
	}

	return &Supervisor{
		cfg:    cfg,
		log:    log.WithComponent("capture"),
		output: output,
	}, nil
}

// OutputPath is where the capture process writes flow rows.
func (s *Supervisor) OutputPath() string {
	return s.output
}

// BatchMode reports whether the tool converts a fixed pcap file and exits,
// as opposed to capturing live indefinitely.
func (s *Supervisor) BatchMode() bool {
	return s.cfg.PcapFile != ""
}

// grace is the terminate-to-kill window applied on both teardown paths.
func (s *Supervisor) grace() time.Duration {
	if g := s.cfg.StopGrace.Duration(); g > 0 {
		return g
	}

	return models.DefaultStopGrace
}

func (s *Supervisor) buildArgs() []string {
	args := []string{"-o", s.output}

	if s.cfg.PcapFile != "" {
		args = append(args, "-i", s.cfg.PcapFile)
	} else {
		args = append(args, "--live")
		if s.cfg.Interface != "" {
			args = append(args, "--iface", s.cfg.Interface)
		}
	}

	return args
}

// Start launches the capture process and begins draining its output streams
// into the log.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil && s.aliveLocked() {
		return errAlreadyRunning
	}

	args := s.buildArgs()
	cmd := exec.CommandContext(ctx, s.cfg.Binary, args...)

	// Context cancellation must ask the child to terminate, not hard-kill
	// it; the tool needs the chance to flush its output file. Escalation to
	// a kill happens after the same grace period Stop uses.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = s.grace()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("capture stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("capture stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start capture process: %w", err)
	}

	s.log.Info().
		Str("binary", s.cfg.Binary).
		Strs("args", args).
		Int("pid", cmd.Process.Pid).
		Msg("Capture process started")

	done := make(chan struct{})
	s.cmd = cmd
	s.done = done
	s.exit = nil

	go s.drainOutput(stdout, "stdout")
	go s.drainOutput(stderr, "stderr")

	go func() {
		err := cmd.Wait()

		s.mu.Lock()
		s.exit = err
		s.mu.Unlock()

		close(done)
	}()

	return nil
}

// drainOutput forwards one child output stream line by line into the log,
// decoupled from the main polling loop.
func (s *Supervisor) drainOutput(r io.Reader, stream string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		s.log.Debug().Str("stream", stream).Msg(line)
	}
}

// Alive reports whether the capture process is currently running.
func (s *Supervisor) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.aliveLocked()
}

func (s *Supervisor) aliveLocked() bool {
	if s.cmd == nil || s.done == nil {
		return false
	}

	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the process exits or ctx is done. Used in batch mode,
// where the tool is expected to terminate on its own.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done == nil {
		return errNotStarted
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.exit
}

// Stop terminates the capture process gracefully, escalating to a kill
// after the configured grace period.
func (s *Supervisor) Stop(ctx context.Context) {
	s.mu.Lock()
	cmd := s.cmd
	done := s.done
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}

	select {
	case <-done:
		return // already exited
	default:
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		s.log.Debug().Err(err).Msg("Terminate signal failed, killing")
		_ = cmd.Process.Kill()

		return
	}

	timer := time.NewTimer(s.grace())
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		s.log.Warn().Msg("Capture process did not exit in time, killing")
		_ = cmd.Process.Kill()
		<-done
	case <-ctx.Done():
		_ = cmd.Process.Kill()
	}
}
