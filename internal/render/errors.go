package render

import (
	"errors"
	"fmt"
)

// ErrDataParse is returned when the data buffer is neither JSON nor usable CSV.
var ErrDataParse = errors.New("data is neither valid JSON nor CSV")

// DataError carries the parser failure behind ErrDataParse.
type DataError struct {
	Format string // "json" or "csv"
	Err    error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("parse %s data: %v", e.Format, e.Err)
}

func (e *DataError) Unwrap() []error {
	return []error{ErrDataParse, e.Err}
}

// BuildError is returned when composing a preview document fails. The
// previously published document stays current.
type BuildError struct {
	Generation string
	Err        error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("render %s failed: %v", e.Generation, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}
