package vfs

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateName is returned when a file name already exists in a folder
	// under case-insensitive comparison.
	ErrDuplicateName = errors.New("file name already exists")

	// ErrNotFound is returned when an operation targets a missing record.
	ErrNotFound = errors.New("file not found")

	// ErrInvalidName is returned for blank names and names with separators.
	ErrInvalidName = errors.New("invalid file name")
)

// FileError wraps a store error with the file it concerns.
type FileError struct {
	Op     string // Operation that failed (e.g., "create", "update")
	Folder FolderID
	Name   string
	Err    error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s/%s: %v", e.Op, e.Folder, e.Name, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

func fileErr(op string, folder FolderID, name string, err error) error {
	return &FileError{Op: op, Folder: folder, Name: name, Err: err}
}
