/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package log

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type bufCloser struct {
	bytes.Buffer
}

func (b *bufCloser) Close() error { return nil }

func TestLevelGating(t *testing.T) {
	var buf bufCloser
	lg := New(&buf)
	require.NoError(t, lg.SetLevel(WARN))

	lg.Infof("should be dropped")
	lg.Warnf("should be kept: %d", 7)

	out := buf.String()
	require.NotContains(t, out, "should be dropped")
	require.Contains(t, out, "should be kept: 7")
}

func TestStructuredKV(t *testing.T) {
	var buf bufCloser
	lg := New(&buf)
	require.NoError(t, lg.Warn("artifact failed", KV("artifact", "files"), KV("count", 3)))

	out := buf.String()
	require.Contains(t, out, "artifact failed")
	require.Contains(t, out, `artifact="files"`)
	require.Contains(t, out, `count="3"`)
}

func TestSetLevelString(t *testing.T) {
	var buf bufCloser
	lg := New(&buf)
	require.NoError(t, lg.SetLevelString("ERROR"))
	require.Equal(t, ERROR, lg.GetLevel())
	require.Error(t, lg.SetLevelString("NOPE"))
}

func TestRelayReceivesLines(t *testing.T) {
	var buf bufCloser
	lg := New(&buf)

	var got strings.Builder
	require.NoError(t, lg.AddRelay(relayFunc(func(b []byte) error {
		got.Write(b)
		return nil
	})))
	lg.Errorf("relayed line")
	require.Contains(t, got.String(), "relayed line")
}

type relayFunc func([]byte) error

func (f relayFunc) WriteLog(_ time.Time, b []byte) error { return f(b) }
