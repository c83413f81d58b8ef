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

// Package rpc implements the request dispatch table and wire codecs
// from spec.md §4.6-4.7: every recognised method is matched against a
// static table carrying its request shape, whether it needs a session
// and whether it is allowed while starting. The table holds no
// per-method role: any authenticated session may call any method.
// Every request is decoded as JSON by default or the compact
// binary codec when the client asks for application/octet-stream.
package rpc

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// ContentTypeBinary is the Content-Type value selecting the binary
// codec, per spec.md §4.7.
const ContentTypeBinary = "application/octet-stream"

// Codec encodes and decodes request/response bodies for one wire
// format.
type Codec interface {
	Decode(r io.Reader, v any) error
	Encode(w io.Writer, v any) error
	ContentType() string
}

// CodecFor resolves the Codec for an incoming Content-Type header,
// defaulting to JSON when contentType is empty or unrecognized.
func CodecFor(contentType string) Codec {
	if contentType == ContentTypeBinary {
		return binaryCodec{}
	}
	return jsonCodec{}
}

type jsonCodec struct{}

func (jsonCodec) Decode(r io.Reader, v any) error {
	return errors.Wrap(json.NewDecoder(r).Decode(v), "decoding JSON request")
}

func (jsonCodec) Encode(w io.Writer, v any) error {
	return errors.Wrap(json.NewEncoder(w).Encode(v), "encoding JSON response")
}

func (jsonCodec) ContentType() string { return "application/json" }

type binaryCodec struct{}

func (binaryCodec) Decode(r io.Reader, v any) error {
	return errors.Wrap(msgpack.NewDecoder(r).Decode(v), "decoding binary request")
}

func (binaryCodec) Encode(w io.Writer, v any) error {
	return errors.Wrap(msgpack.NewEncoder(w).Encode(v), "encoding binary response")
}

func (binaryCodec) ContentType() string { return ContentTypeBinary }
