// Package transform holds the named payload transforms that jobs resolve
// inside their isolated context. Callers choose a transform by name; the
// function itself is compiled in and never crosses the boundary.
package transform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Func turns raw bytes into the value emitted upstream. The result must be
// JSON-serializable.
type Func func(data []byte) (any, error)

const (
	Text = "text"
	JSON = "json"
	Trim = "trim"
	Gzip = "gzip"
	Zstd = "zstd"
)

var (
	mu       sync.RWMutex
	registry = map[string]Func{
		Text: text,
		JSON: jsonValue,
		Trim: trim,
		Gzip: gunzip,
		Zstd: unzstd,
	}

	zstdDecoder *zstd.Decoder
	zstdOnce    sync.Once
	zstdErr     error
)

// Register adds a named transform. Built-in names cannot be replaced.
func Register(name string, fn Func) error {
	if name == "" || fn == nil {
		return fmt.Errorf("transform name and function required")
	}
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[name]; exists {
		return fmt.Errorf("transform %q already registered", name)
	}
	registry[name] = fn
	return nil
}

// Lookup returns the transform for name. The empty name is text.
func Lookup(name string) (Func, bool) {
	if name == "" {
		name = Text
	}
	mu.RLock()
	defer mu.RUnlock()
	fn, ok := registry[name]
	return fn, ok
}

// Apply runs the named transform over data.
func Apply(name string, data []byte) (any, error) {
	fn, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown transform %q", name)
	}
	out, err := fn(data)
	if err != nil {
		return nil, fmt.Errorf("%s transform: %w", name, err)
	}
	return out, nil
}

// Names lists registered transforms
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func text(data []byte) (any, error) {
	return string(data), nil
}

func trim(data []byte) (any, error) {
	return strings.TrimSpace(string(data)), nil
}

func jsonValue(data []byte) (any, error) {
	trimmed := bytes.TrimSpace(data)
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("invalid JSON")
	}
	return json.RawMessage(trimmed), nil
}

func gunzip(data []byte) (any, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return string(out), nil
}

func unzstd(data []byte) (any, error) {
	zstdOnce.Do(func() {
		zstdDecoder, zstdErr = zstd.NewReader(nil)
	})
	if zstdErr != nil {
		return nil, zstdErr
	}
	out, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, err
	}
	return string(out), nil
}
