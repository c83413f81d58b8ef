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

package config

import (
	"github.com/ifak-eu/mediator/internal/ident"
	"github.com/ifak-eu/mediator/internal/rpc"
)

// Catalog implements rpc.Catalog over a loaded Document, answering the
// discovery methods of spec.md §6 that depend on the static module
// list.
type Catalog struct {
	doc *Document
}

// NewCatalog wraps doc as an rpc.Catalog.
func NewCatalog(doc *Document) *Catalog {
	return &Catalog{doc: doc}
}

// Modules implements rpc.Catalog.
func (c *Catalog) Modules() []rpc.ModuleSummary {
	out := make([]rpc.ModuleSummary, 0, len(c.doc.Modules))
	for _, m := range c.doc.Modules {
		out = append(out, rpc.ModuleSummary{
			ID:      ident.ModuleID(m.ID),
			Name:    m.Name,
			Enabled: m.Enabled,
		})
	}
	return out
}

var _ rpc.Catalog = (*Catalog)(nil)
