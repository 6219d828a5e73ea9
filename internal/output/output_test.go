/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package output

import (
	"testing"

	"github.com/gravwell/artemis-collector/internal/config"
	"github.com/stretchr/testify/require"
)

type memWriter struct {
	batches [][]byte
}

func (m *memWriter) WriteBatch(artifactName string, b []byte) error {
	m.batches = append(m.batches, append([]byte(nil), b...))
	return nil
}
func (m *memWriter) Close() error { return nil }

func TestSessionFlushesAtThreshold(t *testing.T) {
	w := &memWriter{}
	out := config.Output{Format: config.FormatJSONL}
	s := NewSession("files", out, w, nil, nil, Metadata{}, true) // heavy -> threshold 1000
	for i := 0; i < 999; i++ {
		require.NoError(t, s.Push(map[string]int{"i": i}))
	}
	require.Empty(t, w.batches)
	require.NoError(t, s.Push(map[string]int{"i": 999}))
	require.Len(t, w.batches, 1)
}

func TestFilterDropsBatch(t *testing.T) {
	w := &memWriter{}
	out := config.Output{Format: config.FormatJSON}
	filter := func(records []interface{}) []interface{} { return nil }
	s := NewSession("files", out, w, nil, filter, Metadata{}, true)
	require.NoError(t, s.Push("x"))
	require.NoError(t, s.Flush())
	require.Empty(t, w.batches)
}

func TestFinishEmitsTerminator(t *testing.T) {
	w := &memWriter{}
	out := config.Output{Format: config.FormatJSON}
	s := NewSession("files", out, w, nil, nil, Metadata{}, true)
	require.NoError(t, s.Push("x"))
	require.NoError(t, s.Finish())
	require.Len(t, w.batches, 2)
	require.Contains(t, string(w.batches[1]), "_terminator")
}
