package connectors

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// Archive keeps raw messages on disk as <sha256>.eml so an offer can be
// replayed with the analyze command.
type Archive struct {
	dir string
}

func NewArchive(dir string) *Archive {
	return &Archive{dir: dir}
}

// Store writes raw once and returns its path. An existing file is left as is.
func (a *Archive) Store(raw []byte) (string, error) {
	const opn = "connectors.Archive.Store"

	sum := sha256.Sum256(raw)
	hash := hex.EncodeToString(sum[:])

	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("%s: %w", opn, err)
	}
	path := filepath.Join(a.dir, hash+".eml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, raw, 0o644); err != nil {
			return "", fmt.Errorf("%s: %w", opn, err)
		}
	}
	return path, nil
}
