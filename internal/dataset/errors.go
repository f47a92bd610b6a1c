package dataset

import (
	"errors"
	"fmt"
)

// ErrMalformedDataset matches any *MalformedDatasetError via errors.Is.
var ErrMalformedDataset = errors.New("malformed dataset")

// MalformedDatasetError reports a document whose top level is neither a JSON
// object nor a JSON array. It is fatal to one load attempt only.
type MalformedDatasetError struct {
	Reason string
	Err    error
}

func (e *MalformedDatasetError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed dataset: %s: %v", e.Reason, e.Err)
	}
	return "malformed dataset: " + e.Reason
}

func (e *MalformedDatasetError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrMalformedDataset) match regardless of the wrapped cause.
func (e *MalformedDatasetError) Is(target error) bool { return target == ErrMalformedDataset }

func malformed(reason string, err error) error {
	return &MalformedDatasetError{Reason: reason, Err: err}
}
