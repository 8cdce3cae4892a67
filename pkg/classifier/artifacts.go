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

package classifier

import (
	"encoding/json"
	"fmt"
	"os"
)

// Scaler rescales a feature matrix in place. Rows are samples, columns
// follow ModelFeatures order.
type Scaler interface {
	Transform(rows [][]float64) error
}

// Model predicts one class index per sample row.
type Model interface {
	Predict(rows [][]float64) ([]int, error)
}

// StandardScaler centers each feature on its training mean and divides by
// its training standard deviation.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// LoadScaler reads a standard scaler artifact from a JSON file.
func LoadScaler(path string) (*StandardScaler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scaler: %w", err)
	}

	var s StandardScaler
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scaler: %w", err)
	}

	if len(s.Mean) != len(s.Scale) {
		return nil, fmt.Errorf("scaler mean/scale length mismatch: %d vs %d", len(s.Mean), len(s.Scale))
	}

	if len(s.Mean) != len(ModelFeatures) {
		return nil, fmt.Errorf("scaler has %d features, expected %d", len(s.Mean), len(ModelFeatures))
	}

	return &s, nil
}

// Transform rescales every row in place. A zero scale entry would divide by
// zero; the training column was constant, so the centered value is already 0
// and the entry is passed through unscaled.
func (s *StandardScaler) Transform(rows [][]float64) error {
	for _, row := range rows {
		if len(row) != len(s.Mean) {
			return fmt.Errorf("row has %d features, scaler expects %d", len(row), len(s.Mean))
		}

		for j := range row {
			row[j] -= s.Mean[j]
			if s.Scale[j] != 0 {
				row[j] /= s.Scale[j]
			}
		}
	}

	return nil
}

// treeNode is one node of a regression tree in flattened array form. A leaf
// has Left == -1 and its score in Value; an inner node compares the feature
// at Feature against Threshold, going left when the value is below it.
type treeNode struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Value     float64 `json:"value"`
}

type tree struct {
	Nodes []treeNode `json:"nodes"`
}

// score walks the tree for one sample row.
func (t *tree) score(row []float64) float64 {
	idx := 0

	for {
		node := t.Nodes[idx]
		if node.Left < 0 {
			return node.Value
		}

		if node.Feature < len(row) && row[node.Feature] < node.Threshold {
			idx = node.Left
		} else {
			idx = node.Right
		}
	}
}

// TreeEnsemble is a boosted-trees classifier. Trees are assigned to classes
// round-robin: tree i contributes its score to class i mod NumClass. The
// predicted class is the one with the highest summed margin.
type TreeEnsemble struct {
	NumClass int    `json:"num_class"`
	Trees    []tree `json:"trees"`
}

// LoadModel reads a tree ensemble artifact from a JSON file.
func LoadModel(path string) (*TreeEnsemble, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}

	var m TreeEnsemble
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse model: %w", err)
	}

	if m.NumClass < 1 {
		return nil, fmt.Errorf("model has invalid class count %d", m.NumClass)
	}

	if len(m.Trees) == 0 {
		return nil, fmt.Errorf("model has no trees")
	}

	for i, t := range m.Trees {
		if len(t.Nodes) == 0 {
			return nil, fmt.Errorf("model tree %d has no nodes", i)
		}
	}

	return &m, nil
}

// Predict returns one class index per row.
func (m *TreeEnsemble) Predict(rows [][]float64) ([]int, error) {
	out := make([]int, len(rows))

	for i, row := range rows {
		margins := make([]float64, m.NumClass)

		for j := range m.Trees {
			margins[j%m.NumClass] += m.Trees[j].score(row)
		}

		best := 0
		for c := 1; c < m.NumClass; c++ {
			if margins[c] > margins[best] {
				best = c
			}
		}

		out[i] = best
	}

	return out, nil
}
