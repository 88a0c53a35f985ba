//go:build linux && (amd64 || arm64)

package host

import (
	"fmt"
	"sync"

	"github.com/ebitengine/purego"

	jitrt "github.com/tinyrange/jit/internal/runtime"
)

var (
	callbackOnce sync.Once
	callbackHost *Runtime
	callbacks    map[string]uintptr
)

// Bind publishes the entry points of r as native callbacks and records
// their addresses in t. Callbacks live for the whole process, so only the
// first runtime bound gets them; binding a different one fails.
func (r *Runtime) Bind(t *jitrt.Table) error {
	callbackOnce.Do(func() {
		callbackHost = r
		callbacks = make(map[string]uintptr)
		for name, fn := range r.Entries() {
			callbacks[name] = purego.NewCallback(fn)
		}
		r.logger.Debug("published runtime callbacks", "count", len(callbacks))
	})
	if callbackHost != r {
		return fmt.Errorf("host: callbacks already bound to another runtime")
	}
	for name, addr := range callbacks {
		if err := t.Bind(name, addr); err != nil {
			return err
		}
	}
	return nil
}

var (
	defaultOnce    sync.Once
	defaultRuntime *Runtime
	defaultTable   *jitrt.Table
	defaultErr     error
)

// Default returns the process-wide runtime and its bound table.
func Default() (*Runtime, *jitrt.Table, error) {
	defaultOnce.Do(func() {
		defaultRuntime = New(nil, nil)
		defaultTable = jitrt.NewTable()
		defaultErr = defaultRuntime.Bind(defaultTable)
	})
	return defaultRuntime, defaultTable, defaultErr
}
