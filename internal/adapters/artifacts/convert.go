package artifacts

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/seccorpus/certmap/internal/core/domain"
	"github.com/seccorpus/certmap/internal/core/ports"
)

// PdftotextConverter shells out to the external pdftotext binary.
type PdftotextConverter struct {
	binary string
}

// NewPdftotextConverter builds a converter; binary defaults to the
// pdftotext found on PATH.
func NewPdftotextConverter(binary string) *PdftotextConverter {
	if binary == "" {
		binary = "pdftotext"
	}
	return &PdftotextConverter{binary: binary}
}

// Convert renders pdfPath as plain text into txtPath. Failures carry
// the converter's stderr when available.
func (c *PdftotextConverter) Convert(ctx context.Context, pdfPath, txtPath string) error {
	cmd := exec.CommandContext(ctx, c.binary, "-layout", pdfPath, txtPath)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.Remove(txtPath)
		msg := err
		if stderr.Len() > 0 {
			msg = &stderrError{err: err, detail: strings.TrimSpace(stderr.String())}
		}
		return &domain.ConvertError{Path: pdfPath, Err: msg}
	}
	return nil
}

type stderrError struct {
	err    error
	detail string
}

func (e *stderrError) Error() string { return e.err.Error() + ": " + e.detail }
func (e *stderrError) Unwrap() error { return e.err }

var _ ports.Converter = (*PdftotextConverter)(nil)
