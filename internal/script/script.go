/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package script embeds a JavaScript engine (github.com/dop251/goja) so
// user scripts can invoke parser entry points for ad-hoc collection
// logic. Execution is one-shot, synchronous, and timeout-bounded; errors
// surface as typed results rather than panics.
package script

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"time"

	"github.com/dop251/goja"
	"github.com/gobwas/glob"

	"github.com/gravwell/artemis-collector/internal/errs"
	"github.com/gravwell/artemis-collector/internal/fsutil"
	"github.com/gravwell/artemis-collector/internal/log"
	"github.com/gravwell/artemis-collector/internal/macho"
	"github.com/gravwell/artemis-collector/internal/model"
	"github.com/gravwell/artemis-collector/internal/shimdb"
	"github.com/gravwell/artemis-collector/internal/spotlight"
)

// Host runs one script to completion per Run call. It owns no state
// across calls: bindings to the parsers are synchronous, short-lived,
// and do not persist state across script invocations.
type Host struct {
	lg      *log.Logger
	timeout time.Duration
}

// New builds a Host. A zero timeout means no caller-supplied bound;
// Run then applies a generous default rather than running unbounded.
func New(lg *log.Logger, timeout time.Duration) *Host {
	if lg == nil {
		lg = log.NewDiscard()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Host{lg: lg, timeout: timeout}
}

// ErrTimeout is returned when a script exceeds its execution budget.
var ErrTimeout = errors.New("script: execution timed out")

// Run executes source (a single JS program) and returns the value its
// last expression produced, JSON-marshalable the same way every other
// bridge in this collector expects (numbers, strings, booleans, byte
// arrays, nested objects). scriptName is only used to derive the
// artifact name a returned value is pushed under — the caller
// (internal/collect) does the pushing; Run itself is pipeline agnostic.
func (h *Host) Run(scriptName, source string) (interface{}, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	h.bind(vm)

	done := make(chan struct{})
	var val goja.Value
	var runErr error

	go func() {
		defer close(done)
		val, runErr = vm.RunString(source)
	}()

	select {
	case <-done:
	case <-time.After(h.timeout):
		vm.Interrupt("timeout")
		<-done
		return nil, ErrTimeout
	}

	if runErr != nil {
		if jsErr, ok := runErr.(*goja.Exception); ok {
			return nil, fmt.Errorf("%w: %s", errs.ErrScript, jsErr.Value().String())
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrScript, runErr)
	}
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil, nil
	}
	return val.Export(), nil
}

// RunFilter executes a filter script against one output batch, exposed to
// the script as the global `batch`. A null/undefined return means "drop
// the batch" (nil result, nil error); any other return must be an array,
// which replaces the batch. Script failures return an error so the caller
// can emit the unfiltered batch instead.
func (h *Host) RunFilter(scriptName, source string, batch []interface{}) ([]interface{}, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	h.bind(vm)
	vm.Set("batch", batch)

	done := make(chan struct{})
	var val goja.Value
	var runErr error
	go func() {
		defer close(done)
		val, runErr = vm.RunString(source)
	}()
	select {
	case <-done:
	case <-time.After(h.timeout):
		vm.Interrupt("timeout")
		<-done
		return nil, ErrTimeout
	}

	if runErr != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrScript, runErr)
	}
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil, nil
	}
	out, ok := val.Export().([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: filter %s returned a non-array value", errs.ErrScript, scriptName)
	}
	return out, nil
}

// bind installs the script surface: filesystem primitives, parser
// entry points, and logging. Each callable is
// synchronous from the script's perspective and translates Go errors
// into thrown JS exceptions so the script can catch them.
func (h *Host) bind(vm *goja.Runtime) {
	vm.Set("stat", h.jsStat)
	vm.Set("glob", h.jsGlob)
	vm.Set("read_file", h.jsReadFile)
	vm.Set("read_text_file", h.jsReadTextFile)
	vm.Set("read_lines", h.jsReadLines)
	vm.Set("hash_file", h.jsHashFile)

	vm.Set("parse_macho", h.jsParseMacho)
	vm.Set("parse_shimdb", h.jsParseShimdb)
	vm.Set("parse_spotlight_page", h.jsParseSpotlightPage)

	vm.Set("log_debug", func(s string) { h.lg.Debugf("script: %s", s) })
	vm.Set("log_info", func(s string) { h.lg.Infof("script: %s", s) })
	vm.Set("log_warn", func(s string) { h.lg.Warnf("script: %s", s) })
	vm.Set("log_error", func(s string) { h.lg.Errorf("script: %s", s) })
}

func throwOpaque(vm *goja.Runtime, err error) {
	panic(vm.NewGoError(fmt.Errorf("%s", err.Error())))
}

type statResult struct {
	Path    string `json:"path"`
	Size    int64  `json:"size"`
	IsDir   bool   `json:"is_dir"`
	ModTime string `json:"mod_time"`
}

func (h *Host) jsStat(call goja.FunctionCall, vm *goja.Runtime) goja.Value {
	path := call.Argument(0).String()
	fi, err := os.Stat(path)
	if err != nil {
		throwOpaque(vm, err)
	}
	return vm.ToValue(statResult{
		Path:    path,
		Size:    fi.Size(),
		IsDir:   fi.IsDir(),
		ModTime: fi.ModTime().UTC().Format("2006-01-02T15:04:05.000Z"),
	})
}

func (h *Host) jsGlob(call goja.FunctionCall, vm *goja.Runtime) goja.Value {
	root := call.Argument(0).String()
	pattern := call.Argument(1).String()

	g, err := glob.Compile(pattern, '/')
	if err != nil {
		throwOpaque(vm, err)
	}
	var matches []string
	err = fsutil.Walk(fsutil.WalkOptions{Root: root, Include: g}, h.lg, func(fi model.FileInfo) {
		matches = append(matches, fi.FullPath)
	})
	if err != nil {
		throwOpaque(vm, err)
	}
	return vm.ToValue(matches)
}

func (h *Host) jsReadFile(call goja.FunctionCall, vm *goja.Runtime) goja.Value {
	path := call.Argument(0).String()
	b, err := ioutil.ReadFile(path)
	if err != nil {
		throwOpaque(vm, err)
	}
	return vm.ToValue(b)
}

func (h *Host) jsReadTextFile(call goja.FunctionCall, vm *goja.Runtime) goja.Value {
	path := call.Argument(0).String()
	b, err := ioutil.ReadFile(path)
	if err != nil {
		throwOpaque(vm, err)
	}
	return vm.ToValue(string(b))
}

func (h *Host) jsReadLines(call goja.FunctionCall, vm *goja.Runtime) goja.Value {
	path := call.Argument(0).String()
	offset := int(call.Argument(1).ToInteger())
	limit := int(call.Argument(2).ToInteger())

	b, err := ioutil.ReadFile(path)
	if err != nil {
		throwOpaque(vm, err)
	}
	lines := splitLines(string(b))
	if offset < 0 || offset > len(lines) {
		offset = len(lines)
	}
	end := offset + limit
	if limit <= 0 || end > len(lines) {
		end = len(lines)
	}
	return vm.ToValue(lines[offset:end])
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, c := range s {
		if c == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func (h *Host) jsHashFile(call goja.FunctionCall, vm *goja.Runtime) goja.Value {
	path := call.Argument(0).String()
	algo := call.Argument(1).String()
	hashes := fsutil.HashSet{}
	switch algo {
	case "md5":
		hashes.MD5 = true
	case "sha1":
		hashes.SHA1 = true
	case "sha256":
		hashes.SHA256 = true
	default:
		hashes = fsutil.HashSet{MD5: true, SHA1: true, SHA256: true}
	}

	f, err := os.Open(path)
	if err != nil {
		throwOpaque(vm, err)
	}
	defer f.Close()
	sum, err := fsutil.HashFile(f, hashes)
	if err != nil {
		throwOpaque(vm, err)
	}
	return vm.ToValue(sum)
}

func (h *Host) jsParseMacho(call goja.FunctionCall, vm *goja.Runtime) goja.Value {
	path := call.Argument(0).String()
	data, err := ioutil.ReadFile(path)
	if err != nil {
		throwOpaque(vm, err)
	}
	infos, err := macho.ParseFile(data)
	if err != nil {
		throwOpaque(vm, err)
	}
	return vm.ToValue(infos)
}

func (h *Host) jsParseShimdb(call goja.FunctionCall, vm *goja.Runtime) goja.Value {
	path := call.Argument(0).String()
	data, err := ioutil.ReadFile(path)
	if err != nil {
		throwOpaque(vm, err)
	}
	st := shimdb.ParseStringTable(data)
	items, err := shimdb.Parse(data, st)
	if err != nil {
		throwOpaque(vm, err)
	}
	return vm.ToValue(items)
}

func (h *Host) jsParseSpotlightPage(call goja.FunctionCall, vm *goja.Runtime) goja.Value {
	path := call.Argument(0).String()
	data, err := ioutil.ReadFile(path)
	if err != nil {
		throwOpaque(vm, err)
	}
	page, err := spotlight.DecompressPage(data)
	if err != nil {
		throwOpaque(vm, err)
	}
	return vm.ToValue(page)
}
