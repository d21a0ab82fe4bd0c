// Package upload publishes generated reports to remote storage.
package upload

import "context"

// Uploader uploads local files to remote storage.
type Uploader interface {
	// Preflight verifies that the remote storage is reachable and writable.
	// Writes a small test object to the bucket to fail fast on misconfiguration.
	Preflight(ctx context.Context) error

	// UploadFile uploads localPath under the configured prefix, keyed by
	// its base name, and returns the object key.
	UploadFile(ctx context.Context, localPath string) (string, error)
}
