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
	"strconv"
	"strings"
)

// FieldKind identifies the parsed type of a raw capture column value.
type FieldKind int

const (
	FieldNull FieldKind = iota
	FieldInt
	FieldFloat
	FieldString
)

// FieldValue is a tagged union holding one typed capture column value.
// Raw capture output is untyped text; values are parsed best-effort by
// ParseFieldValue and the original type is not recoverable afterwards.
type FieldValue struct {
	Kind  FieldKind
	Int   int64
	Float float64
	Str   string
}

func NullValue() FieldValue           { return FieldValue{Kind: FieldNull} }
func IntValue(v int64) FieldValue     { return FieldValue{Kind: FieldInt, Int: v} }
func FloatValue(v float64) FieldValue { return FieldValue{Kind: FieldFloat, Float: v} }
func StringValue(v string) FieldValue { return FieldValue{Kind: FieldString, Str: v} }

// ParseFieldValue converts a raw CSV cell into a typed value. A value
// containing a decimal point is parsed as floating point, anything else is
// attempted as an integer, and on failure the text is kept verbatim. Empty
// cells become null. This heuristic is lossy: a numeric-looking string such
// as a MAC-address octet can misparse as a number. That approximation is
// deliberate and matches what collectors downstream already expect.
func ParseFieldValue(raw string) FieldValue {
	if raw == "" {
		return NullValue()
	}

	if strings.Contains(raw, ".") {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return FloatValue(f)
		}

		return StringValue(raw)
	}

	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return IntValue(i)
	}

	return StringValue(raw)
}

// AsFloat returns the numeric value of the field, with ok reporting whether
// the field held an int or float.
func (v FieldValue) AsFloat() (val float64, ok bool) {
	switch v.Kind {
	case FieldInt:
		return float64(v.Int), true
	case FieldFloat:
		return v.Float, true
	default:
		return 0, false
	}
}

// AsString renders the field for display; null renders as the empty string.
func (v FieldValue) AsString() string {
	switch v.Kind {
	case FieldInt:
		return strconv.FormatInt(v.Int, 10)
	case FieldFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case FieldString:
		return v.Str
	default:
		return ""
	}
}

func (v FieldValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case FieldInt:
		return json.Marshal(v.Int)
	case FieldFloat:
		return json.Marshal(v.Float)
	case FieldString:
		return json.Marshal(v.Str)
	default:
		return []byte("null"), nil
	}
}

func (v *FieldValue) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*v = NullValue()
		return nil
	}

	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}

		*v = StringValue(str)

		return nil
	}

	// Numbers keep their int/float distinction the same way the parser
	// assigns it: a decimal point or exponent means float.
	if strings.ContainsAny(s, ".eE") {
		var f float64
		if err := json.Unmarshal(b, &f); err != nil {
			return err
		}

		*v = FloatValue(f)

		return nil
	}

	var i int64
	if err := json.Unmarshal(b, &i); err != nil {
		return err
	}

	*v = IntValue(i)

	return nil
}
