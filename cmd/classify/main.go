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

// classify annotates a flow CSV with traffic categories and writes the
// result back out as CSV. It runs the same pipeline the agent uses for
// in-line annotation, plus an optional trailing time window.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/flowsentry/flowsentry/pkg/classifier"
	"github.com/flowsentry/flowsentry/pkg/logger"
)

var errInputRequired = errors.New("input file is required")

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	input := flag.String("i", "", "Input flow CSV (required)")
	output := flag.String("o", "", "Output CSV, defaults to stdout")
	scalerPath := flag.String("scaler", "scaler.json", "Path to the scaler artifact")
	modelPath := flag.String("model", "model.json", "Path to the model artifact")
	window := flag.Float64("window", 0, "Trailing duration window, 0 disables filtering")
	logLevel := flag.String("log-level", "warn", "Log level")
	flag.Parse()

	if *input == "" {
		flag.Usage()
		return errInputRequired
	}

	appLogger, err := logger.NewLogger(&logger.Config{Level: *logLevel, Output: "stderr"})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	cls, err := classifier.NewFromFiles(*scalerPath, *modelPath, appLogger)
	if err != nil {
		return fmt.Errorf("failed to load artifacts: %w", err)
	}

	table, err := classifier.ReadCSV(*input)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", *input, err)
	}

	result := cls.Classify(table, *window)

	out := os.Stdout

	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", *output, err)
		}
		defer func() { _ = f.Close() }()

		out = f
	}

	if err := result.WriteCSV(out); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	return nil
}
