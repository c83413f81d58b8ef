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

package historian

// queuedItem pairs a WorkItem with the Future it must eventually
// resolve; Post enqueues these, and PrioritizeAndCompress reorders and
// merges them before the worker executes them one at a time.
type queuedItem struct {
	item   WorkItem
	future *Future
}

// PrioritizeAndCompress applies the coarse queue discipline from
// spec.md §4.3:
//
//  1. If readPriority is enabled and the head of the queue is not a
//     read, the first read found is moved to the head.
//  2. If the (possibly just-reprioritized) head is an Append, the
//     longest run of consecutive Appends starting at the head is
//     coalesced into a single Append, whose Future list must all be
//     resolved together once the merged batch commits.
//
// It never reorders two writes relative to each other, and never
// demotes a read past a write: only the single nearest read is ever
// promoted, and only to the very head.
func PrioritizeAndCompress(queue []queuedItem, readPriority bool) (head queuedItem, rest []queuedItem, mergedFutures []*Future) {
	if len(queue) == 0 {
		return queuedItem{}, nil, nil
	}

	if readPriority && !isRead(queue[0].item) {
		for i := 1; i < len(queue); i++ {
			if isRead(queue[i].item) {
				promoted := queue[i]
				// Shift the skipped writes down by one, preserving
				// their relative order, and place the read at the
				// head.
				copy(queue[1:i+1], queue[0:i])
				queue[0] = promoted
				break
			}
		}
	}

	head = queue[0]
	rest = queue[1:]

	if head.item.Kind != KindAppend {
		return head, rest, []*Future{head.future}
	}

	merged := AppendItem{}
	futures := []*Future{head.future}
	merged.Samples = append(merged.Samples, head.item.Append.Samples...)

	consumed := 0
	for _, q := range rest {
		if q.item.Kind != KindAppend {
			break
		}
		merged.Samples = append(merged.Samples, q.item.Append.Samples...)
		futures = append(futures, q.future)
		consumed++
	}

	head = queuedItem{
		item:   WorkItem{Kind: KindAppend, Append: &merged},
		future: nil, // resolved via mergedFutures once committed
	}
	return head, rest[consumed:], futures
}

func isRead(item WorkItem) bool {
	switch item.Kind {
	case KindReadRaw, KindCount, KindGetLatest:
		return true
	default:
		return false
	}
}
