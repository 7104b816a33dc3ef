package util

import (
	"crypto/sha1"
	"encoding/hex"
	"io"

	"github.com/spf13/afero"
)

// ContentHash returns the hex SHA1 of a rendered table. The cache index
// stores it per table so a later check can tell whether the file changed.
func ContentHash(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// FileHash returns the hex SHA1 of the file at path in fsys, matching
// ContentHash of the bytes written there.
func FileHash(fsys afero.Fs, path string) (string, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return "", &NotFoundError{Path: path, Err: err}
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
