// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package clock contains the immutable value-with-timestamp-and-quality
// primitives shared by every other package: Timestamp, Duration,
// Quality, VTQ and VTTQ.
package clock

import (
	"math"
	"strconv"
	"time"
)

// Timestamp is a monotonic count of milliseconds since the Unix epoch.
// It is comparable and totally ordered.
type Timestamp int64

// Empty is the zero timestamp, used to express the open start of an
// unbounded range query.
const Empty Timestamp = 0

// Max is the largest representable timestamp, used to express the open
// end of an unbounded range query.
const Max Timestamp = math.MaxInt64

// Now returns the current wall-clock time as a Timestamp.
func Now() Timestamp {
	return FromTime(time.Now())
}

// FromTime converts a time.Time to a Timestamp, truncating to
// millisecond precision.
func FromTime(t time.Time) Timestamp {
	return Timestamp(t.UnixMilli())
}

// Time converts the Timestamp back to a time.Time in UTC.
func (t Timestamp) Time() time.Time {
	return time.UnixMilli(int64(t)).UTC()
}

// Before reports whether t occurs strictly before o.
func (t Timestamp) Before(o Timestamp) bool { return t < o }

// After reports whether t occurs strictly after o.
func (t Timestamp) After(o Timestamp) bool { return t > o }

// Add returns t shifted forward by d.
func (t Timestamp) Add(d Duration) Timestamp {
	return t + Timestamp(d)
}

// Sub returns the Duration between t and o (t - o).
func (t Timestamp) Sub(o Timestamp) Duration {
	return Duration(t - o)
}

// InRange reports whether t falls within [start, end). Empty and Max
// act as unbounded sentinels on either side.
func (t Timestamp) InRange(start, end Timestamp) bool {
	if start != Empty && t < start {
		return false
	}
	if end != Max && t >= end {
		return false
	}
	return true
}

// String renders the timestamp as ISO-8601 for diagnostics.
func (t Timestamp) String() string {
	if t == Empty {
		return "Timestamp(Empty)"
	}
	if t == Max {
		return "Timestamp(Max)"
	}
	return t.Time().Format(time.RFC3339Nano)
}

// Millis returns the underlying millisecond count, for wire encoding.
func (t Timestamp) Millis() int64 { return int64(t) }

// ParseTimestamp parses an ISO-8601 string back into a Timestamp. It is
// the inverse of String for non-sentinel values.
func ParseTimestamp(s string) (Timestamp, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return Empty, err
	}
	return FromTime(t), nil
}

// FormatMillis renders the raw millisecond count as a base-10 string,
// the form used by the binary codec and historian primary keys.
func (t Timestamp) FormatMillis() string {
	return strconv.FormatInt(int64(t), 10)
}
