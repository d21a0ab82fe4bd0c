package result

import "fmt"

// MalformedInputError reports a result file that cannot be parsed or lacks
// required fields. It aborts the import of that file only.
type MalformedInputError struct {
	Path   string
	Reason string
	Err    error
}

func (e *MalformedInputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed result %s: %s: %v", e.Path, e.Reason, e.Err)
	}

	return fmt.Sprintf("malformed result %s: %s", e.Path, e.Reason)
}

func (e *MalformedInputError) Unwrap() error {
	return e.Err
}

func malformed(path, reason string, err error) error {
	return &MalformedInputError{Path: path, Reason: reason, Err: err}
}
