package result

import (
	"crypto/sha1" //nolint:gosec // content identity, not a security boundary
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Digest identifies the content of a result file.
type Digest struct {
	// Hash is the hex SHA-1 of the content.
	Hash string
	Size int64
}

// Fingerprint hashes the file content. It is used to recognize a result
// file that was already imported.
func Fingerprint(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("opening result file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return FingerprintReader(f)
}

// FingerprintReader hashes everything read from r.
func FingerprintReader(r io.Reader) (Digest, error) {
	h := sha1.New() //nolint:gosec // see import

	n, err := io.Copy(h, r)
	if err != nil {
		return Digest{}, fmt.Errorf("hashing result file: %w", err)
	}

	return Digest{Hash: hex.EncodeToString(h.Sum(nil)), Size: n}, nil
}
