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

// ColumnMapping renames raw capture columns to the model's internal feature
// names. The mapping is fixed: it has to match the feature order the model
// was trained with.
var ColumnMapping = map[string]string{
	"FlowDuration": "duration",
	"TotalFwdIAT":  "total_fiat",
	"TotalBwdIAT":  "total_biat",
	"FwdIATMin":    "min_fiat",
	"BwdIATMin":    "min_biat",
	"FwdIATMax":    "max_fiat",
	"BwdIATMax":    "max_biat",
	"FwdIATMean":   "mean_fiat",
	"BwdIATMean":   "mean_biat",
	"PktsPerSec":   "flowPktsPerSecond",
	"BytesPerSec":  "flowBytesPerSecond",
	"FlowIATMin":   "min_flowiat",
	"FlowIATMax":   "max_flowiat",
	"FlowIATMean":  "mean_flowiat",
	"FlowIATStd":   "std_flowiat",
	"MinActive":    "min_active",
	"MeanActive":   "mean_active",
	"MaxActive":    "max_active",
	"StdActive":    "std_active",
	"MinIdle":      "min_idle",
	"MeanIdle":     "mean_idle",
	"MaxIdle":      "max_idle",
	"StdIdle":      "std_idle",
}

// ModelFeatures is the fixed, ordered set of features the scaler and model
// expect. Order matters; it is the training-time column order.
var ModelFeatures = []string{
	"duration",
	"total_fiat",
	"total_biat",
	"min_fiat",
	"min_biat",
	"max_fiat",
	"max_biat",
	"mean_fiat",
	"mean_biat",
	"flowPktsPerSecond",
	"flowBytesPerSecond",
	"min_flowiat",
	"max_flowiat",
	"mean_flowiat",
	"std_flowiat",
	"min_active",
	"mean_active",
	"max_active",
	"std_active",
	"min_idle",
	"mean_idle",
	"max_idle",
	"std_idle",
}

// rawNameFor inverts ColumnMapping for one internal feature name.
var rawNameFor = func() map[string]string {
	m := make(map[string]string, len(ColumnMapping))
	for raw, internal := range ColumnMapping {
		m[internal] = raw
	}

	return m
}()

// Labels maps model class outputs to traffic categories. An output without
// an entry is reported as the raw integer, which is notable but recoverable.
var Labels = map[int]string{
	0: "Web",
	1: "Multimedia",
	2: "Social Media",
	3: "Malicious",
}

// durationColumn is the raw column the optional trailing window filters on.
const durationColumn = "FlowDuration"

// PredictionColumn is the output column added by Classify.
const PredictionColumn = "Prediction"

// sideChannelColumns are caller-relevant columns the model does not use.
// They are set aside before feature projection and reattached afterwards so
// preprocessing cannot lose them. Text columns get null-safe empty-string
// defaulting.
var sideChannelColumns = []struct {
	name string
	text bool
}{
	{"URLs", true},
	{"urls", true},
	{"SrcIP", true},
	{"DstIP", true},
	{"SrcPort", false},
	{"DstPort", false},
	{"Protocol", true},
}
