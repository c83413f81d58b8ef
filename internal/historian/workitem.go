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

// Package historian implements the per-database worker and fan-out
// manager from spec.md §4.3-4.4: a single serialized execution thread
// per time-series database, a work queue with a read-prioritizing,
// append-coalescing discipline, and lazy per-variable channel
// materialization.
package historian

import (
	"context"

	"github.com/ifak-eu/mediator/internal/clock"
	"github.com/ifak-eu/mediator/internal/ident"
)

// Kind tags the variant held by a WorkItem.
type Kind int

const (
	// KindAppend stores new VTQ samples for one or more variables.
	KindAppend Kind = iota
	// KindReadRaw retrieves a time-bounded, quality-filtered,
	// bounded-count sequence of VTTQ samples for one variable.
	KindReadRaw
	// KindCount aggregates the number of matching samples.
	KindCount
	// KindDeleteInterval removes samples within a time range.
	KindDeleteInterval
	// KindGetLatest retrieves the most recent DB insertion timestamp
	// for a variable.
	KindGetLatest
	// KindModify applies an Insert/Update/Upsert/ReplaceAll/Delete
	// edit against specific timestamps.
	KindModify
	// KindDelete removes every sample for one or more variables
	// (object-tree deletion).
	KindDelete
	// KindStart is executed as a no-op; the worker's database handle
	// is opened by Worker.Run.
	KindStart
	// KindTerminate is executed as a no-op and serves Worker.Terminate
	// as a marker to wait on; it does not close the database handle or
	// stop further submissions.
	KindTerminate
)

// String renders the Kind's name, used for logging and metric labels.
func (k Kind) String() string {
	switch k {
	case KindAppend:
		return "Append"
	case KindReadRaw:
		return "ReadRaw"
	case KindCount:
		return "Count"
	case KindDeleteInterval:
		return "DeleteInterval"
	case KindGetLatest:
		return "GetLatest"
	case KindModify:
		return "Modify"
	case KindDelete:
		return "Delete"
	case KindStart:
		return "Start"
	case KindTerminate:
		return "Terminate"
	default:
		return "Unknown"
	}
}

// BoundingMethod selects how ReadRaw reduces a range read to at most
// MaxValues samples.
type BoundingMethod int

const (
	// TakeFirstN keeps the first MaxValues samples in time order.
	TakeFirstN BoundingMethod = iota
	// TakeLastN keeps the last MaxValues samples in time order.
	TakeLastN
	// CompressToN uniformly downsamples to at most MaxValues retained
	// samples without interpolation.
	CompressToN
)

// ModifyMode selects the semantics of a Modify work item, per
// spec.md §4.3.
type ModifyMode int

const (
	// ModifyInsert fails if any timestamp in the batch already exists.
	ModifyInsert ModifyMode = iota
	// ModifyUpdate fails if any timestamp in the batch is missing.
	ModifyUpdate
	// ModifyUpsert inserts or replaces row-by-row by timestamp key.
	ModifyUpsert
	// ModifyReplaceAll removes all existing rows for the variable,
	// then inserts the batch.
	ModifyReplaceAll
	// ModifyDelete removes rows whose timestamp matches the supplied
	// set.
	ModifyDelete
)

// AppendItem is the payload of a KindAppend WorkItem: one batch of
// samples, possibly spanning several variables, to be committed inside
// a single transaction.
type AppendItem struct {
	Samples []AppendSample
}

// AppendSample is one value to append for one variable.
type AppendSample struct {
	Ref   ident.VariableRef
	VTQ   clock.VTQ
	Type  string // data type, used only the first time a channel is materialized
}

// ReadRawItem is the payload of a KindReadRaw WorkItem. MaxValues == 0
// returns an empty sequence; a negative MaxValues means unbounded.
type ReadRawItem struct {
	Ref       ident.VariableRef
	Start     clock.Timestamp
	End       clock.Timestamp
	MaxValues int
	Bounding  BoundingMethod
	Filter    clock.QualityFilter
}

// CountItem is the payload of a KindCount WorkItem.
type CountItem struct {
	Ref    ident.VariableRef
	Start  clock.Timestamp
	End    clock.Timestamp
	Filter clock.QualityFilter
}

// DeleteIntervalItem is the payload of a KindDeleteInterval WorkItem.
type DeleteIntervalItem struct {
	Ref   ident.VariableRef
	Start clock.Timestamp
	End   clock.Timestamp
}

// GetLatestItem is the payload of a KindGetLatest WorkItem.
type GetLatestItem struct {
	Ref ident.VariableRef
}

// ModifyItem is the payload of a KindModify WorkItem.
type ModifyItem struct {
	Ref  ident.VariableRef
	Mode ModifyMode
	Data []clock.VTQ // for ModifyDelete, only Time is significant
}

// DeleteItem is the payload of a KindDelete WorkItem: removes every
// sample for the listed variables (used for object-tree deletion).
type DeleteItem struct {
	Refs []ident.VariableRef
}

// WorkItem is the tagged union submitted to a Worker. Exactly one of
// the payload fields is populated, matching Kind. result is the
// internal completion channel; callers never populate it directly —
// Post does that and returns the Future.
type WorkItem struct {
	Kind Kind

	Append         *AppendItem
	ReadRaw        *ReadRawItem
	Count          *CountItem
	DeleteInterval *DeleteIntervalItem
	GetLatest      *GetLatestItem
	Modify         *ModifyItem
	Delete         *DeleteItem

	result chan result
}

// result is the outcome of executing a WorkItem, boxed so a single
// channel type can carry any of the possible return shapes.
type result struct {
	rows  []clock.VTTQ
	count int64
	ts    clock.Timestamp
	errs  []string // per-item errors for batch Modify/Append execution
	err   error
}

// Future is returned by Post and resolves once the worker has executed
// the submitted WorkItem.
type Future struct {
	ch chan result
}

// newWorkItem allocates a WorkItem with its completion channel ready.
func newWorkItem(kind Kind) (WorkItem, *Future) {
	ch := make(chan result, 1)
	return WorkItem{Kind: kind, result: ch}, &Future{ch: ch}
}

// Wait blocks until the work item completes or ctx is done, whichever
// is first. Per spec.md §5, a context cancellation here does NOT abort
// the underlying operation — it only stops the caller from waiting on
// it; the worker still runs the item to completion.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case r := <-f.ch:
		if r.err != nil {
			return Result{}, r.err
		}
		return Result{Rows: r.rows, Count: r.count, Timestamp: r.ts, ItemErrors: r.errs}, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Result is the successful outcome of a WorkItem, with only the fields
// relevant to the submitted Kind populated.
type Result struct {
	Rows       []clock.VTTQ
	Count      int64
	Timestamp  clock.Timestamp
	ItemErrors []string
}
