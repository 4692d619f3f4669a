package preview

import (
	"bytes"
	"context"
	"os/exec"
	"runtime"
	"strings"

	kaperrors "github.com/kapnodes/kapimage/pkg/errors"
)

// Converter turns a layered source image into a PNG at dst
type Converter interface {
	Convert(ctx context.Context, src, dst string) error
}

// DefaultExecutable returns the ImageMagick entry point for this platform
func DefaultExecutable() string {
	if runtime.GOOS == "windows" {
		return "magick"
	}
	return "convert"
}

// ExecConverter runs an external converter as `<exe> <src> <dst>`
type ExecConverter struct {
	Executable string
}

// NewExecConverter creates a converter; an empty executable selects DefaultExecutable
func NewExecConverter(executable string) *ExecConverter {
	if executable == "" {
		executable = DefaultExecutable()
	}
	return &ExecConverter{Executable: executable}
}

// Convert runs the converter and fails on a non-zero exit, a start failure or ctx expiry
func (c *ExecConverter) Convert(ctx context.Context, src, dst string) error {
	cmd := exec.CommandContext(ctx, c.Executable, src, dst)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return kaperrors.NewExternalToolError("image conversion failed", err).
			WithContext("executable", c.Executable).
			WithContext("stderr", strings.TrimSpace(stderr.String()))
	}
	return nil
}
