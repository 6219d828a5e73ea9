/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package eventlog renders Windows eventlog records into human-readable
// messages by resolving provider message templates. Render never mutates
// its inputs; its only side effect is the Merger's own result cache, an
// unsynchronized map, so a Merger must not be shared across goroutines.
package eventlog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gravwell/artemis-collector/internal/model"
)

// Element is one substitution slot in a message Definition.
type Element struct {
	Name          string
	InputType     string
	SubstitutionID int
}

// Definition is one (providerGuid, eventId_version) message template.
type Definition struct {
	MessageID uint32
	Elements  []Element
}

// Template is one resolved `templateFile` resource: a message table plus
// per-provider WEVT definitions.
type Template struct {
	MessageTable map[uint32]string
	WevtTemplate map[string]map[string]Definition // providerGuid -> "eventId_version" -> Definition
}

// ProviderInfo is one entry of the StringResource bundle's provider map.
type ProviderInfo struct {
	MessageFiles   []string
	ParameterFiles []string
	RegistryPath   string
}

// Resources is the full set of resolved resource files a merge pass can
// draw on.
type Resources struct {
	Providers map[string]ProviderInfo      // providerGuid -> info
	Templates map[string]Template          // messageFile/templateFile path -> Template
}

// Merger renders EventLogRecords against a Resources bundle, caching
// results by (providerGuid, eventId_version) for its own lifetime — one
// Merger per parse pass.
type Merger struct {
	res   Resources
	cache map[string]string
}

// NewMerger builds a Merger over a resolved Resources bundle.
func NewMerger(res Resources) *Merger {
	return &Merger{res: res, cache: make(map[string]string)}
}

// escapeReplacer cleans the platform formatting escapes the Windows
// message compiler emits (%n, %t, %r, %_, %%, %b, ...) into plain
// whitespace/literals before substitution.
var escapeReplacer = strings.NewReplacer(
	"%n", "\n",
	"%t", "\t",
	"%r", "\r",
	"%_", " ",
	"%b", "",
	"%%", "%",
	"%.", ".",
	"%!", "!",
)

// Render resolves a message for rec, falling back to a flat key:value
// rendering of the event payload if any resolution step fails. It always
// returns a non-nil *model.EventMessage.
func (m *Merger) Render(rec model.EventLogRecord) *model.EventMessage {
	key := rec.ProviderGUID + "_" + strconv.FormatUint(uint64(rec.EventID), 10) + "_" + strconv.Itoa(int(rec.Version))
	if cached, ok := m.cache[key]; ok {
		return &model.EventMessage{RecordID: rec.RecordID, Message: cached, ProviderName: rec.ProviderName, ProviderGUID: rec.ProviderGUID}
	}

	msg, source, ok := m.resolve(rec)
	if !ok {
		msg = flatRender(rec)
		source = ""
	}
	m.cache[key] = msg
	return &model.EventMessage{RecordID: rec.RecordID, Message: msg, SourceFile: source, ProviderName: rec.ProviderName, ProviderGUID: rec.ProviderGUID}
}

func (m *Merger) resolve(rec model.EventLogRecord) (string, string, bool) {
	provider, ok := m.res.Providers[rec.ProviderGUID]
	if !ok {
		return "", "", false
	}
	defKey := strconv.FormatUint(uint64(rec.EventID), 10) + "_" + strconv.Itoa(int(rec.Version))

	for _, mf := range provider.MessageFiles {
		tmpl, ok := m.res.Templates[mf]
		if !ok {
			continue
		}
		provDefs, ok := tmpl.WevtTemplate[rec.ProviderGUID]
		if !ok {
			continue
		}
		def, ok := provDefs[defKey]
		if !ok {
			continue
		}
		raw, ok := tmpl.MessageTable[def.MessageID]
		if !ok {
			continue
		}
		rendered, ok := m.substitute(raw, def, rec, provider)
		if !ok {
			continue
		}
		return rendered, mf, true
	}
	return "", "", false
}

func (m *Merger) substitute(raw string, def Definition, rec model.EventLogRecord, provider ProviderInfo) (string, bool) {
	cleaned := escapeReplacer.Replace(raw)
	var out strings.Builder
	i := 0
	for i < len(cleaned) {
		if cleaned[i] == '%' && i+1 < len(cleaned) && cleaned[i+1] >= '0' && cleaned[i+1] <= '9' {
			j := i + 1
			for j < len(cleaned) && cleaned[j] >= '0' && cleaned[j] <= '9' {
				j++
			}
			n, _ := strconv.Atoi(cleaned[i+1 : j])
			val := m.elementValue(n, def, rec, provider)
			out.WriteString(val)
			i = j
			continue
		}
		out.WriteByte(cleaned[i])
		i++
	}
	return out.String(), true
}

// elementValue substitutes the Nth element's value from the record's
// payload; values shaped like "%%ID" are resolved a second time against a
// parameter-message table, falling back to the provider's registry-path-
// derived system table ("security" or "system").
func (m *Merger) elementValue(n int, def Definition, rec model.EventLogRecord, provider ProviderInfo) string {
	if n <= 0 || n > len(def.Elements) {
		return ""
	}
	el := def.Elements[n-1]
	raw, ok := rec.EventData[el.Name]
	if !ok {
		return ""
	}
	s := fmt.Sprintf("%v", raw)
	if strings.HasPrefix(s, "%%") {
		if id, err := strconv.Atoi(strings.TrimPrefix(s, "%%")); err == nil {
			if resolved, ok := m.parameterLookup(uint32(id), provider); ok {
				return resolved
			}
		}
	}
	return s
}

func (m *Merger) parameterLookup(id uint32, provider ProviderInfo) (string, bool) {
	for _, pf := range provider.ParameterFiles {
		if tmpl, ok := m.res.Templates[pf]; ok {
			if s, ok := tmpl.MessageTable[id]; ok {
				return s, true
			}
		}
	}
	fallback := systemTableName(provider.RegistryPath)
	if tmpl, ok := m.res.Templates[fallback]; ok {
		if s, ok := tmpl.MessageTable[id]; ok {
			return s, true
		}
	}
	return "", false
}

func systemTableName(registryPath string) string {
	if strings.Contains(strings.ToLower(registryPath), "security") {
		return "security"
	}
	return "system"
}

// flatRender walks EventData/Sections and formats "key: value" pairs,
// grouped by data section, used when template resolution fails.
func flatRender(rec model.EventLogRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "EventID=%d Version=%d Provider=%s", rec.EventID, rec.Version, rec.ProviderName)
	if len(rec.EventData) > 0 {
		b.WriteString(" EventData{")
		writeKV(&b, rec.EventData)
		b.WriteString("}")
	}
	for section, fields := range rec.Sections {
		fmt.Fprintf(&b, " %s{", section)
		writeKV(&b, fields)
		b.WriteString("}")
	}
	return b.String()
}

func writeKV(b *strings.Builder, m map[string]interface{}) {
	first := true
	for k, v := range m {
		if !first {
			b.WriteString(", ")
		}
		first = false
		fmt.Fprintf(b, "%s: %v", k, v)
	}
}
