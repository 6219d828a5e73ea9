/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package eventlog

import (
	"testing"

	"github.com/gravwell/artemis-collector/internal/model"
	"github.com/stretchr/testify/require"
)

func TestRenderResolvesTemplate(t *testing.T) {
	res := Resources{
		Providers: map[string]ProviderInfo{
			"{guid-1}": {MessageFiles: []string{"msgfile"}, RegistryPath: `SYSTEM\CurrentControlSet\Services\EventLog\Security`},
		},
		Templates: map[string]Template{
			"msgfile": {
				MessageTable: map[uint32]string{100: "Logon by %1 succeeded%n"},
				WevtTemplate: map[string]map[string]Definition{
					"{guid-1}": {
						"4624_3": {MessageID: 100, Elements: []Element{{Name: "User", InputType: "string", SubstitutionID: 1}}},
					},
				},
			},
		},
	}
	m := NewMerger(res)
	rec := model.EventLogRecord{
		RecordID: 1, EventID: 4624, Version: 3, ProviderName: "Microsoft-Windows-Security-Auditing", ProviderGUID: "{guid-1}",
		EventData: map[string]interface{}{"User": "alice"},
	}
	out := m.Render(rec)
	require.Equal(t, "Logon by alice succeeded\n", out.Message)
	require.Equal(t, "msgfile", out.SourceFile)
}

func TestRenderFallsBackToFlat(t *testing.T) {
	m := NewMerger(Resources{})
	rec := model.EventLogRecord{
		RecordID: 2, EventID: 999, Version: 1, ProviderName: "Unknown",
		EventData: map[string]interface{}{"Foo": "bar"},
	}
	out := m.Render(rec)
	require.Contains(t, out.Message, "EventID=999")
	require.Contains(t, out.Message, "Foo: bar")
}

func TestRenderCachesByProviderEventVersion(t *testing.T) {
	m := NewMerger(Resources{})
	rec := model.EventLogRecord{RecordID: 3, EventID: 1, Version: 0, ProviderGUID: "{g}"}
	first := m.Render(rec)
	rec2 := rec
	rec2.RecordID = 4
	second := m.Render(rec2)
	require.Equal(t, first.Message, second.Message)
}
