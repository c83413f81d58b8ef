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

// Package config loads the process configuration file from spec.md
// §6's XML document (schema itself out of scope) and exposes the
// process-level flags layered on top of it, following the teacher's
// Config.Bind(flags *pflag.FlagSet)/Preflight() convention.
package config

import (
	"encoding/xml"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Document is the root of the on-disk XML configuration.
type Document struct {
	XMLName xml.Name `xml:"Mediator"`

	ClientListenHost string `xml:"ClientListenHost"`
	ClientListenPort int    `xml:"ClientListenPort"`

	Modules []ModuleEntry `xml:"Modules>Module"`

	UserManagement UserManagement `xml:"UserManagement"`
	Locations      []Location     `xml:"Locations>Location"`
	Databases      []Database     `xml:"HistorianDatabases>Database"`

	// TimestampCheckWarning is a duration string ("5m", "30s"), parsed
	// by TimestampCheckWarningDuration. Nothing reads it at present:
	// historian.Manager.Append warns on clock-skewed appends using its
	// own fixed historian.TimestampCheckWarning constant.
	TimestampCheckWarning string `xml:"TimestampCheckWarning"`

	// IdleTimeout resolves spec.md §9 Open Question ii: the window
	// after which an unacknowledged session is abandoned.
	IdleTimeout string `xml:"IdleTimeout"`

	// VariablesFlushInterval is how often each module's variable store
	// is written to its VariablesFileName. Empty or unparsable means
	// 30s (spec.md §4.2's "periodic persistence"); a module with no
	// VariablesFileName is never flushed.
	VariablesFlushInterval string `xml:"VariablesFlushInterval"`
}

// ModuleEntry is one ordered module declaration, spec.md §6's
// Modules[] table.
type ModuleEntry struct {
	ID                string   `xml:"ID,attr"`
	Name              string   `xml:"Name,attr"`
	ImplAssembly      string   `xml:"ImplAssembly,attr"`
	ImplClass         string   `xml:"ImplClass,attr"`
	Enabled           bool     `xml:"Enabled,attr"`
	ConcurrentInit    bool     `xml:"ConcurrentInit,attr"`
	VariablesFileName string   `xml:"VariablesFileName,attr"`
	Database          string   `xml:"Database,attr"`
	Settings          []Setting `xml:"Config>Setting"`
}

// Setting is one module-specific key/value configuration entry.
type Setting struct {
	Name  string `xml:"Name,attr"`
	Value string `xml:"Value,attr"`
}

// UserManagement holds the statically configured users and roles used
// to authenticate logins, per spec.md §6.
type UserManagement struct {
	Users []User `xml:"User"`
}

// User is one login account. Roles is a comma-separated list in the
// XML document.
type User struct {
	Name     string `xml:"Name,attr"`
	Password string `xml:"Password,attr"`
	Roles    string `xml:"Roles,attr"`
}

// RoleList splits the comma-separated Roles attribute.
func (u User) RoleList() []string {
	if u.Roles == "" {
		return nil
	}
	parts := strings.Split(u.Roles, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// Location is one entry in the location hierarchy metadata, spec.md
// §6's Locations section.
type Location struct {
	ID       string `xml:"ID,attr"`
	Name     string `xml:"Name,attr"`
	ParentID string `xml:"ParentID,attr"`
}

// Database names one historian backing store, keyed by name from a
// ModuleEntry's Database attribute.
type Database struct {
	Name         string `xml:"Name,attr"`
	Driver       string `xml:"Driver,attr"` // "sqlite" or "pgx"
	DSN          string `xml:"DSN,attr"`
	ReadPriority bool   `xml:"ReadPriority,attr"`

	// RetentionDays is how long history is kept before the scheduled
	// sweep deletes it. Zero means keep forever.
	RetentionDays int `xml:"RetentionDays,attr"`
}

// Load reads and parses the XML configuration document at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading configuration file %s", path)
	}
	var doc Document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "parsing configuration file %s", path)
	}
	return &doc, nil
}

// IdleTimeoutDuration parses IdleTimeout, defaulting to 60s per
// spec.md §9 Open Question ii's suggestion when unset or invalid.
func (d *Document) IdleTimeoutDuration() time.Duration {
	if d.IdleTimeout == "" {
		return 60 * time.Second
	}
	parsed, err := time.ParseDuration(d.IdleTimeout)
	if err != nil {
		return 60 * time.Second
	}
	return parsed
}

// TimestampCheckWarningDuration parses TimestampCheckWarning, falling
// back to the historian package's own default.
func (d *Document) TimestampCheckWarningDuration(fallback time.Duration) time.Duration {
	if d.TimestampCheckWarning == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(d.TimestampCheckWarning)
	if err != nil {
		return fallback
	}
	return parsed
}

// VariablesFlushIntervalDuration parses VariablesFlushInterval,
// defaulting to 30s when unset or invalid.
func (d *Document) VariablesFlushIntervalDuration() time.Duration {
	if d.VariablesFlushInterval == "" {
		return 30 * time.Second
	}
	parsed, err := time.ParseDuration(d.VariablesFlushInterval)
	if err != nil {
		return 30 * time.Second
	}
	return parsed
}

// Addr formats the client transport listen address.
func (d *Document) Addr() string {
	host := d.ClientListenHost
	port := strconv.Itoa(d.ClientListenPort)
	if host == "" {
		host = "0.0.0.0"
	}
	return host + ":" + port
}

// ProcessFlags are the command-line flags layered over the XML
// document: only the path to find it, and overrides an operator needs
// without editing the file.
type ProcessFlags struct {
	ConfigFile   string
	ListenAddr   string
	MetricsAddr  string
}

// Bind registers the process flags, following the teacher's
// Config.Bind(flags *pflag.FlagSet) convention.
func (f *ProcessFlags) Bind(flags *pflag.FlagSet) {
	flags.StringVar(&f.ConfigFile, "config", "mediator.xml",
		"path to the XML process configuration document")
	flags.StringVar(&f.ListenAddr, "listen", "",
		"override ClientListenHost:ClientListenPort from the configuration document")
	flags.StringVar(&f.MetricsAddr, "metricsListen", "",
		"accepted but not used; /metrics and /healthz are always served on the main listener")
}

// Preflight validates the process flags once parsed.
func (f *ProcessFlags) Preflight() error {
	if f.ConfigFile == "" {
		return errors.New("config: --config must not be empty")
	}
	return nil
}
