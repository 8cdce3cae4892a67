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

// Package classifier annotates flow tables with a traffic category
// prediction. It is strictly best effort: a broken artifact, a malformed
// table, or a panic inside prediction degrades to returning the input rows
// unannotated rather than taking the capture pipeline down with it.
package classifier

import (
	"fmt"
	"math"
	"strconv"

	"github.com/flowsentry/flowsentry/pkg/logger"
	"github.com/flowsentry/flowsentry/pkg/metrics"
	"github.com/flowsentry/flowsentry/pkg/models"
)

// Classifier runs the projection, scaling and prediction pipeline over flow
// tables. Safe for use from a single goroutine; the agent drives it from
// its poll loop.
type Classifier struct {
	scaler Scaler
	model  Model
	log    logger.Logger
}

// New builds a classifier from already loaded artifacts.
func New(scaler Scaler, model Model, log logger.Logger) *Classifier {
	return &Classifier{
		scaler: scaler,
		model:  model,
		log:    log.WithComponent("classifier"),
	}
}

// NewFromFiles loads the scaler and model artifacts and builds a
// classifier. Either artifact failing to load is a hard error; running
// with half a pipeline would silently misclassify everything.
func NewFromFiles(scalerPath, modelPath string, log logger.Logger) (*Classifier, error) {
	scaler, err := LoadScaler(scalerPath)
	if err != nil {
		return nil, err
	}

	model, err := LoadModel(modelPath)
	if err != nil {
		return nil, err
	}

	return New(scaler, model, log), nil
}

// Classify annotates the table with a Prediction column. When windowSeconds
// is positive, rows are first filtered to the trailing window of the
// duration column; the returned table reflects that filter even when
// prediction later fails.
//
// Classify never returns an error. Any failure past the filter stage is
// logged and the most recent intact table is returned, so callers always
// get their rows back.
func (c *Classifier) Classify(table *Table, windowSeconds float64) (result *Table) {
	if table == nil || table.Rows() == 0 {
		return table
	}

	result = filterWindow(table, windowSeconds)

	defer func() {
		if r := recover(); r != nil {
			metrics.ClassifierErrors.Inc()
			c.log.Error().Str("panic", fmt.Sprint(r)).Msg("Classifier panicked, returning rows unannotated")
		}
	}()

	if result.Rows() == 0 {
		return result
	}

	matrix := projectFeatures(result)

	scaled := make([][]float64, len(matrix))
	for i, row := range matrix {
		scaled[i] = append([]float64(nil), row...)
	}

	if err := c.scaler.Transform(scaled); err != nil {
		metrics.ClassifierErrors.Inc()
		c.log.Error().Err(err).Msg("Feature scaling failed, returning rows unannotated")

		return result
	}

	classes, err := c.model.Predict(scaled)
	if err != nil {
		metrics.ClassifierErrors.Inc()
		c.log.Error().Err(err).Msg("Prediction failed, returning rows unannotated")

		return result
	}

	annotated := buildOutput(result, matrix, classes)

	for _, class := range classes {
		label, known := Labels[class]
		if !known {
			label = strconv.Itoa(class)

			metrics.UnknownLabels.Inc()
		}

		metrics.FlowsClassified.WithLabelValues(label).Inc()
	}

	c.log.Info().Int("flows", annotated.Rows()).Msg("Flows classified")

	return annotated
}

// filterWindow keeps rows whose duration falls within windowSeconds of the
// maximum observed duration. The duration column and the window share
// whatever unit the capture tool emits. Tables without the duration column
// pass through unchanged.
func filterWindow(table *Table, windowSeconds float64) *Table {
	if windowSeconds <= 0 {
		return table
	}

	col := table.Column(durationColumn)
	if col == nil {
		col = table.Column(ColumnMapping[durationColumn])
	}

	if col == nil {
		return table
	}

	maxDur := math.Inf(-1)
	for _, v := range col {
		if f, ok := v.AsFloat(); ok && f > maxDur {
			maxDur = f
		}
	}

	if math.IsInf(maxDur, -1) {
		return table
	}

	cutoff := maxDur - windowSeconds

	keep := make([]int, 0, len(col))
	for i, v := range col {
		if f, ok := v.AsFloat(); ok && f >= cutoff {
			keep = append(keep, i)
		}
	}

	return table.SelectRows(keep)
}

// projectFeatures builds the numeric feature matrix in ModelFeatures order.
// A column is looked up by its internal name first, so classifier output
// fed back in projects identically, then by its raw capture name. Missing
// columns and non-numeric or non-finite cells become 0.
func projectFeatures(table *Table) [][]float64 {
	rows := table.Rows()

	matrix := make([][]float64, rows)
	for i := range matrix {
		matrix[i] = make([]float64, len(ModelFeatures))
	}

	for j, feature := range ModelFeatures {
		col := table.Column(feature)
		if col == nil {
			col = table.Column(rawNameFor[feature])
		}

		if col == nil {
			continue
		}

		for i, v := range col {
			f, ok := v.AsFloat()
			if !ok || math.IsInf(f, 0) || math.IsNaN(f) {
				f = 0
			}

			matrix[i][j] = f
		}
	}

	return matrix
}

// buildOutput assembles the annotated table: sanitized unscaled features
// under their internal names, the prediction, then any side channels
// carried over from the input.
func buildOutput(table *Table, matrix [][]float64, classes []int) *Table {
	out := NewTable()

	for j, feature := range ModelFeatures {
		vals := make([]models.FieldValue, len(matrix))
		for i := range matrix {
			vals[i] = models.FloatValue(matrix[i][j])
		}

		_ = out.SetColumn(feature, vals)
	}

	preds := make([]models.FieldValue, len(classes))

	for i, class := range classes {
		label, known := Labels[class]
		if !known {
			label = strconv.Itoa(class)
		}

		preds[i] = models.StringValue(label)
	}

	_ = out.SetColumn(PredictionColumn, preds)

	for _, sc := range sideChannelColumns {
		col := table.Column(sc.name)
		if col == nil {
			continue
		}

		vals := make([]models.FieldValue, len(col))

		for i, v := range col {
			if sc.text && v.Kind == models.FieldNull {
				vals[i] = models.StringValue("")
			} else {
				vals[i] = v
			}
		}

		_ = out.SetColumn(sc.name, vals)
	}

	return out
}
