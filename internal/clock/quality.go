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

// Quality describes the trustworthiness of a value at the moment it
// was recorded.
type Quality int

const (
	// Bad means the value must not be trusted.
	Bad Quality = iota
	// Uncertain means the value may be stale or derived from a
	// degraded source.
	Uncertain
	// Good means the value is trustworthy.
	Good
)

// String implements fmt.Stringer.
func (q Quality) String() string {
	switch q {
	case Good:
		return "Good"
	case Uncertain:
		return "Uncertain"
	case Bad:
		return "Bad"
	default:
		return "Unknown"
	}
}

// IsGood reports whether q is exactly Good.
func (q Quality) IsGood() bool { return q == Good }

// IsNotBad reports whether q is Good or Uncertain.
func (q Quality) IsNotBad() bool { return q != Bad }

// QualityFilter selects which qualities a historian read should
// retain.
type QualityFilter int

const (
	// ExcludeNone retains all qualities.
	ExcludeNone QualityFilter = iota
	// ExcludeBad drops Bad samples.
	ExcludeBad
	// ExcludeNonGood keeps only Good samples.
	ExcludeNonGood
)

// Accepts reports whether a sample of quality q passes the filter.
func (f QualityFilter) Accepts(q Quality) bool {
	switch f {
	case ExcludeBad:
		return q != Bad
	case ExcludeNonGood:
		return q == Good
	default:
		return true
	}
}
