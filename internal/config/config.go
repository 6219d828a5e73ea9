/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package config loads the TOML collection file: an ordered artifact
// list plus one Output table. Reads are size-capped before parsing so a
// runaway file can't balloon memory.
package config

import (
	"errors"
	"io"
	"os"

	"github.com/BurntSushi/toml"
)

const maxConfigSize int64 = 4 * 1024 * 1024 // 4MB

var (
	ErrConfigFileTooLarge = errors.New("config file is too large")
	ErrFailedFileRead     = errors.New("failed to read entire config file")
)

// OutputFormat selects the serialization the output pipeline uses.
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatJSONL OutputFormat = "jsonl"
)

// OutputKind selects where a session's flushed batches are written.
type OutputKind string

const (
	OutputLocal OutputKind = "local"
	OutputAWS   OutputKind = "aws"
	OutputGCP   OutputKind = "gcp"
	OutputAzure OutputKind = "azure"
)

// Output is the `[Output]` table from the collection file.
type Output struct {
	Name         string       `toml:"name"`
	Directory    string       `toml:"directory"`
	Format       OutputFormat `toml:"format"`
	Compress     bool         `toml:"compress"`
	EndpointID   string       `toml:"endpoint_id"`
	CollectionID string       `toml:"collection_id"`
	Kind         OutputKind   `toml:"output"`
	URL          string       `toml:"url"`
	APIKey       string       `toml:"api_key"`
	FilterName   string       `toml:"filter_name"`
	FilterScript string       `toml:"filter_script"`
	Logging      string       `toml:"logging"`
	Timeline     bool         `toml:"timeline"`
}

// Artifact is one entry in the collection file's ordered artifact list.
// Options is kept as a toml.Primitive so each artifact kind can decode its
// own typed options struct out of it after dispatch.
type Artifact struct {
	Name    string `toml:"artifact_name"`
	Options toml.Primitive
}

// Collection is the parsed collection file: an ordered artifact list plus
// one Output descriptor.
type Collection struct {
	Output    Output
	Artifacts []Artifact `toml:"artifacts"`

	meta toml.MetaData
}

// DecodeOptions decodes an artifact's options table into v using the same
// MetaData the top-level document was parsed with.
func (c *Collection) DecodeOptions(a Artifact, v interface{}) error {
	return c.meta.PrimitiveDecode(a.Options, v)
}

// LoadFile reads and parses path, capping the read at maxConfigSize.
func LoadFile(path string) (*Collection, error) {
	fin, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fin.Close()

	fi, err := fin.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() > maxConfigSize {
		return nil, ErrConfigFileTooLarge
	}

	b := make([]byte, fi.Size())
	if n, rerr := io.ReadFull(fin, b); rerr != nil || int64(n) != fi.Size() {
		return nil, ErrFailedFileRead
	}
	return LoadBytes(b)
}

// LoadBytes parses the contents of b as a TOML collection file.
func LoadBytes(b []byte) (*Collection, error) {
	if int64(len(b)) > maxConfigSize {
		return nil, ErrConfigFileTooLarge
	}
	var c Collection
	meta, err := toml.Decode(string(b), &c)
	if err != nil {
		return nil, err
	}
	c.meta = meta
	return &c, nil
}
