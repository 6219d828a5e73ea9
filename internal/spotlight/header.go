/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package spotlight

import (
	"os"

	json "github.com/goccy/go-json"

	"github.com/gravwell/artemis-collector/internal/errs"
)

// sidecarEntry is one property's metadata in the sidecar file: its name
// and value kind, keyed by property index.
type sidecarEntry struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

var kindNames = map[string]AttrKind{
	"int16":      AttrInt16,
	"int32":      AttrInt32,
	"int64":      AttrInt64,
	"bool":       AttrBool,
	"byte":       AttrByte,
	"float32":    AttrFloat32,
	"float64":    AttrFloat64,
	"date":       AttrDate,
	"guid":       AttrGUID,
	"string":     AttrString,
	"binary":     AttrBinary,
	"list":       AttrList,
	"multivalue": AttrMultiValue,
}

// LoadHeader reads a property-metadata sidecar and returns the Header
// keyed by property index. The on-disk dbStr map format Apple uses is
// undocumented and not fixed by the store.db format itself, so the
// sidecar is carried as JSON (`{"0": {"name": "...", "kind": "string"},
// ...}`) produced by whatever extracted the store — see DESIGN.md.
// Unknown kind names decode as binary, matching ParseRecords' treatment
// of unmapped property indices.
func LoadHeader(path string) (Header, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.ErrSourceUnavailable
	}
	return ParseHeader(b)
}

// ParseHeader decodes sidecar bytes into a Header.
func ParseHeader(b []byte) (Header, error) {
	var raw map[uint64]sidecarEntry
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, errs.ErrParseCorrupt
	}
	h := make(Header, len(raw))
	for idx, e := range raw {
		kind, ok := kindNames[e.Kind]
		if !ok {
			kind = AttrBinary
		}
		h[idx] = PropertyMeta{Name: e.Name, Kind: kind}
	}
	return h, nil
}
