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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendQI(n int) queuedItem {
	return queuedItem{item: WorkItem{Kind: KindAppend, Append: &AppendItem{Samples: []AppendSample{{}}}}, future: &Future{ch: make(chan result, 1)}}
}

func readQI() queuedItem {
	return queuedItem{item: WorkItem{Kind: KindReadRaw, ReadRaw: &ReadRawItem{}}, future: &Future{ch: make(chan result, 1)}}
}

func TestPrioritizeAndCompressEmptyQueue(t *testing.T) {
	head, rest, futures := PrioritizeAndCompress(nil, true)
	assert.Equal(t, queuedItem{}, head)
	assert.Nil(t, rest)
	assert.Nil(t, futures)
}

func TestPrioritizeAndCompressPromotesReadToHead(t *testing.T) {
	q := []queuedItem{appendQI(1), appendQI(2), readQI(), appendQI(3)}
	head, rest, futures := PrioritizeAndCompress(q, true)

	require.Equal(t, KindReadRaw, head.item.Kind)
	require.Len(t, futures, 1)
	// The two writes originally ahead of the read keep their relative
	// order, followed by the write that was originally behind it.
	require.Len(t, rest, 3)
	assert.Equal(t, KindAppend, rest[0].item.Kind)
	assert.Equal(t, KindAppend, rest[1].item.Kind)
	assert.Equal(t, KindAppend, rest[2].item.Kind)
}

func TestPrioritizeAndCompressLeavesReadPriorityOffAlone(t *testing.T) {
	q := []queuedItem{appendQI(1), readQI()}
	head, rest, _ := PrioritizeAndCompress(q, false)
	assert.Equal(t, KindAppend, head.item.Kind)
	require.Len(t, rest, 1)
	assert.Equal(t, KindReadRaw, rest[0].item.Kind)
}

func TestPrioritizeAndCompressCoalescesConsecutiveAppends(t *testing.T) {
	q := []queuedItem{appendQI(1), appendQI(2), appendQI(3), readQI()}
	head, rest, futures := PrioritizeAndCompress(q, false)

	require.Equal(t, KindAppend, head.item.Kind)
	assert.Len(t, head.item.Append.Samples, 3)
	assert.Len(t, futures, 3)
	require.Len(t, rest, 1)
	assert.Equal(t, KindReadRaw, rest[0].item.Kind)
}

func TestPrioritizeAndCompressStopsAtFirstNonAppend(t *testing.T) {
	q := []queuedItem{appendQI(1), readQI(), appendQI(2)}
	head, rest, futures := PrioritizeAndCompress(q, false)

	assert.Equal(t, KindAppend, head.item.Kind)
	assert.Len(t, head.item.Append.Samples, 1)
	assert.Len(t, futures, 1)
	require.Len(t, rest, 2)
	assert.Equal(t, KindReadRaw, rest[0].item.Kind)
	assert.Equal(t, KindAppend, rest[1].item.Kind)
}
