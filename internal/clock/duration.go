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

package clock

import "time"

// Duration is a count of milliseconds, matching the resolution of
// Timestamp. It supports the arithmetic spec.md §4.1 requires: adding
// or subtracting from a Timestamp and comparing ranges.
type Duration int64

// DurationFromStd converts a time.Duration to a Duration, truncating to
// millisecond precision.
func DurationFromStd(d time.Duration) Duration {
	return Duration(d.Milliseconds())
}

// Std converts the Duration back to a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d) * time.Millisecond
}

// Millis returns the raw millisecond count.
func (d Duration) Millis() int64 { return int64(d) }
