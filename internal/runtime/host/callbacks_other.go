//go:build !linux || !(amd64 || arm64)

package host

import (
	"fmt"
	goruntime "runtime"

	jitrt "github.com/tinyrange/jit/internal/runtime"
)

// Bind is unsupported here: native callbacks need linux on amd64 or arm64.
func (r *Runtime) Bind(t *jitrt.Table) error {
	return fmt.Errorf("host: native callbacks unsupported on %s/%s", goruntime.GOOS, goruntime.GOARCH)
}

func Default() (*Runtime, *jitrt.Table, error) {
	r := New(nil, nil)
	t := jitrt.NewTable()
	return r, t, r.Bind(t)
}
