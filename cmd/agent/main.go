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

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/flowsentry/flowsentry/pkg/agent"
	"github.com/flowsentry/flowsentry/pkg/config"
	"github.com/flowsentry/flowsentry/pkg/logger"
	"github.com/flowsentry/flowsentry/pkg/metrics"
	"github.com/flowsentry/flowsentry/pkg/models"
	"github.com/flowsentry/flowsentry/pkg/offline"
	"github.com/flowsentry/flowsentry/pkg/sysinfo"
	"github.com/flowsentry/flowsentry/pkg/version"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/flowsentry/agent.json", "Path to agent config file")
	iface := flag.String("iface", "", "Capture interface (overrides config)")
	pcapFile := flag.String("pcap", "", "Convert a pcap file instead of capturing live")
	listIfaces := flag.Bool("list-interfaces", false, "List capture-worthy interfaces and exit")
	purgeOffline := flag.Bool("purge-offline", false, "Delete all queued offline batches and exit")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetFullVersion())
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *listIfaces {
		names, err := sysinfo.ListInterfaces(ctx)
		if err != nil {
			return fmt.Errorf("list interfaces: %w", err)
		}

		for _, name := range names {
			fmt.Println(name)
		}

		return nil
	}

	var cfg models.AgentConfig

	cfgLoader := config.NewConfig(nil)
	if err := cfgLoader.Load(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cfg.ApplyDefaults()

	if *iface != "" {
		cfg.Capture.Interface = *iface
	}

	if *pcapFile != "" {
		cfg.Capture.PcapFile = *pcapFile
	}

	appLogger, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	if *purgeOffline {
		store := offline.NewStore(cfg.Offline.Dir, appLogger)

		pending := store.PendingCount()
		if err := store.Purge(); err != nil {
			return fmt.Errorf("purge offline queue: %w", err)
		}

		fmt.Printf("Purged %d offline batches from %s\n", pending, cfg.Offline.Dir)

		return nil
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(cfg.MetricsAddr); err != nil {
				appLogger.Error().Err(err).Msg("Metrics listener failed")
			}
		}()
	}

	a, err := agent.New(ctx, &cfg, appLogger)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	appLogger.Info().
		Str("version", version.GetFullVersion()).
		Str("device_id", a.Device().DeviceID).
		Str("device_name", a.Device().DeviceName).
		Str("ip", a.Device().IPAddress).
		Msg("Starting flow agent")

	return a.Run(ctx)
}
