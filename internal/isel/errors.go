package isel

import "fmt"

// InternalError reports IR the selector cannot translate or a target that
// lacks a required code path. It is raised with panic and never recovered
// inside the selector.
type InternalError struct {
	Msg string
}

func (e *InternalError) Error() string { return "isel: internal error: " + e.Msg }

// Fatalf aborts the current compilation.
func Fatalf(format string, args ...any) {
	panic(&InternalError{Msg: fmt.Sprintf(format, args...)})
}
