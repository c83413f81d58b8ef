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

//go:build wireinject
// +build wireinject

package wiring

import (
	"github.com/google/wire"
	"github.com/sirupsen/logrus"

	"github.com/ifak-eu/mediator/internal/config"
)

// NewApp mirrors wire_gen.go's hand-expanded version; this file is
// never compiled (see the wireinject build tag) but documents the
// provider graph wire would generate it from.
func NewApp(log *logrus.Entry, doc *config.Document) (*App, error) {
	panic(wire.Build(
		wire.Struct(new(App), "*"),
	))
}
