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

package models

import (
	"encoding/json"
	"time"
)

// FlowRecord is one normalized network flow as shipped to the collector.
// Fields holds the raw capture columns keyed by their original header names.
// The record marshals as a flat JSON object: the envelope keys below plus
// every capture column inline, matching the collector's batch-flows contract.
type FlowRecord struct {
	FlowID         string
	DeviceID       string
	CapturedAt     time.Time
	LocalTimestamp string
	Fields         map[string]FieldValue
}

const localTimestampLayout = "2006-01-02 15:04:05"

// reserved envelope keys that never come from capture columns.
var flowEnvelopeKeys = map[string]struct{}{
	"flow_id":         {},
	"device_id":       {},
	"timestamp":       {},
	"local_timestamp": {},
}

func (f *FlowRecord) MarshalJSON() ([]byte, error) {
	doc := make(map[string]interface{}, len(f.Fields)+4)

	for k, v := range f.Fields {
		if _, reserved := flowEnvelopeKeys[k]; reserved {
			continue
		}

		doc[k] = v
	}

	doc["flow_id"] = f.FlowID
	doc["device_id"] = f.DeviceID
	doc["timestamp"] = f.CapturedAt.UTC().Format(time.RFC3339Nano)
	doc["local_timestamp"] = f.LocalTimestamp

	return json.Marshal(doc)
}

func (f *FlowRecord) UnmarshalJSON(b []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}

	if raw, ok := doc["flow_id"]; ok {
		if err := json.Unmarshal(raw, &f.FlowID); err != nil {
			return err
		}
	}

	if raw, ok := doc["device_id"]; ok {
		if err := json.Unmarshal(raw, &f.DeviceID); err != nil {
			return err
		}
	}

	if raw, ok := doc["timestamp"]; ok {
		var ts string
		if err := json.Unmarshal(raw, &ts); err != nil {
			return err
		}

		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return err
		}

		f.CapturedAt = parsed
	}

	if raw, ok := doc["local_timestamp"]; ok {
		if err := json.Unmarshal(raw, &f.LocalTimestamp); err != nil {
			return err
		}
	}

	f.Fields = make(map[string]FieldValue, len(doc))

	for k, raw := range doc {
		if _, reserved := flowEnvelopeKeys[k]; reserved {
			continue
		}

		var v FieldValue
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}

		f.Fields[k] = v
	}

	return nil
}

// NewLocalTimestamp renders t in the collector's human-readable local form.
func NewLocalTimestamp(t time.Time) string {
	return t.Format(localTimestampLayout)
}

// Batch is an ordered group of flow records sent in one delivery attempt.
// A batch is immutable once constructed: it is either fully delivered or
// persisted whole to the offline store, never partially acknowledged.
type Batch struct {
	DeviceID   string        `json:"device_id"`
	DeviceName string        `json:"device_name"`
	IPAddress  string        `json:"ip_address"`
	Flows      []*FlowRecord `json:"flows"`
	Timestamp  string        `json:"timestamp"`
}

// NewBatch stamps a batch envelope around the given flows.
func NewBatch(device DeviceInfo, flows []*FlowRecord, now time.Time) *Batch {
	return &Batch{
		DeviceID:   device.DeviceID,
		DeviceName: device.DeviceName,
		IPAddress:  device.IPAddress,
		Flows:      flows,
		Timestamp:  now.UTC().Format(time.RFC3339Nano),
	}
}

// DeviceInfo identifies this device to the collector.
type DeviceInfo struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	IPAddress  string `json:"ip_address"`
	Location   string `json:"location"`
	Status     string `json:"status"`
}
