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

// VTQ is a value-time-quality tuple: the fundamental observation
// record produced by every module and consumed by the variable store,
// the historian, and every session subscription.
type VTQ struct {
	Value   any
	Time    Timestamp
	Quality Quality
}

// Equal reports structural equality between two VTQ values. any
// comparison uses == and will panic if Value holds an uncomparable
// type (e.g. a slice); callers working with array-valued variables
// should compare Value themselves.
func (v VTQ) Equal(o VTQ) bool {
	return v.Time == o.Time && v.Quality == o.Quality && v.Value == o.Value
}

// VTTQ extends VTQ with the timestamp at which the historian inserted
// the row, letting callers distinguish "when the value changed" from
// "when we learned about it".
type VTTQ struct {
	VTQ
	DBTime Timestamp
}

// Equal reports structural equality between two VTTQ values.
func (v VTTQ) Equal(o VTTQ) bool {
	return v.VTQ.Equal(o.VTQ) && v.DBTime == o.DBTime
}
