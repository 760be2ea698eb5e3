// Package artifacts implements the content-addressed on-disk document
// store. Every document lives at a unique per-digest path, so parallel
// workers never contend on the same file.
package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/seccorpus/certmap/internal/core/ports"
)

// Store lays documents out as root/<kind>/<format>/<digest>.<format>.
type Store struct {
	root string
}

// New creates the store rooted at dir and pre-creates the kind/format
// directories.
func New(dir string) (*Store, error) {
	for _, kind := range []ports.DocumentKind{ports.KindReport, ports.KindST, ports.KindCert, ports.KindProfile} {
		for _, format := range []ports.DocumentFormat{ports.FormatPDF, ports.FormatTxt, ports.FormatJSON} {
			if err := os.MkdirAll(filepath.Join(dir, string(kind), string(format)), 0o755); err != nil {
				return nil, fmt.Errorf("creating artifact dir: %w", err)
			}
		}
	}
	return &Store{root: dir}, nil
}

// Root returns the store root directory.
func (s *Store) Root() string { return s.root }

// Path returns the canonical location for a document, whether or not
// it exists yet.
func (s *Store) Path(kind ports.DocumentKind, format ports.DocumentFormat, dgst string) string {
	return filepath.Join(s.root, string(kind), string(format), dgst+"."+string(format))
}

// Acquire produces the document into a temporary sibling, hashes it,
// and promotes it only when the content actually changed. A hash-equal
// rewrite leaves the existing file untouched and reports changed=false.
func (s *Store) Acquire(kind ports.DocumentKind, format ports.DocumentFormat, dgst string, produce func(path string) error) (string, bool, error) {
	final := s.Path(kind, format, dgst)
	prior, _ := fileHash(final)

	tmp := final + ".tmp"
	if err := produce(tmp); err != nil {
		os.Remove(tmp)
		return "", false, err
	}
	hash, err := fileHash(tmp)
	if err != nil {
		os.Remove(tmp)
		return "", false, fmt.Errorf("hashing %s: %w", tmp, err)
	}
	if hash == prior {
		os.Remove(tmp)
		return hash, false, nil
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", false, fmt.Errorf("promoting %s: %w", final, err)
	}
	return hash, true, nil
}

func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

var _ ports.ArtifactStore = (*Store)(nil)
