// Package folders resolves the fixed input, output and temp roots the host application
// stores images in, and guards every derived path against escaping its root.
package folders

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	kaperrors "github.com/kapnodes/kapimage/pkg/errors"
	"github.com/kapnodes/kapimage/pkg/models"
)

// Roots holds the absolute paths of the three storage roots
type Roots struct {
	Input  string `mapstructure:"input" yaml:"input"`
	Output string `mapstructure:"output" yaml:"output"`
	Temp   string `mapstructure:"temp" yaml:"temp"`
}

// NewRoots makes each root absolute and creates it if missing
func NewRoots(input, output, temp string) (*Roots, error) {
	r := &Roots{}
	for _, pair := range []struct {
		dst *string
		src string
		typ models.StorageType
	}{
		{&r.Input, input, models.StorageInput},
		{&r.Output, output, models.StorageOutput},
		{&r.Temp, temp, models.StorageTemp},
	} {
		if pair.src == "" {
			return nil, kaperrors.NewConfigError(fmt.Sprintf("%s directory is not configured", pair.typ), nil)
		}
		abs, err := filepath.Abs(ExpandUser(pair.src))
		if err != nil {
			return nil, kaperrors.NewConfigError("failed to resolve "+string(pair.typ)+" directory", err)
		}
		if err := os.MkdirAll(abs, 0755); err != nil {
			return nil, kaperrors.NewFileSystemError("failed to create "+string(pair.typ)+" directory", err)
		}
		*pair.dst = abs
	}
	return r, nil
}

// Dir returns the root directory for a storage type
func (r *Roots) Dir(t models.StorageType) (string, error) {
	switch t {
	case models.StorageInput, "":
		return r.Input, nil
	case models.StorageOutput:
		return r.Output, nil
	case models.StorageTemp:
		return r.Temp, nil
	default:
		return "", kaperrors.NewClientInputError(fmt.Sprintf("unknown storage type %q", t), nil)
	}
}

// Resolve joins root/subfolder/filename and rejects results outside the root.
// It returns the containing directory and the absolute file path.
func (r *Roots) Resolve(t models.StorageType, subfolder, filename string) (string, string, error) {
	root, err := r.Dir(t)
	if err != nil {
		return "", "", err
	}
	if filename == "" {
		return "", "", kaperrors.NewClientInputError("filename is required", nil)
	}
	if strings.ContainsAny(filename, `/\`) || filename == "." || filename == ".." {
		return "", "", kaperrors.NewClientInputError("filename must not contain a directory", nil).
			WithContext("filename", filename)
	}
	if filepath.IsAbs(subfolder) || filepath.IsAbs(filename) {
		return "", "", kaperrors.NewClientInputError("absolute paths are not allowed", nil).
			WithContext("subfolder", subfolder)
	}

	full := filepath.Join(root, filepath.Clean(subfolder), filename)
	if !IsWithin(root, full) || full == root {
		return "", "", kaperrors.NewClientInputError("path escapes storage root", nil).
			WithContext("subfolder", subfolder).
			WithContext("filename", filename)
	}
	return filepath.Dir(full), full, nil
}

// IsWithin reports whether child is parent or lies beneath it
func IsWithin(parent, child string) bool {
	parentPath := filepath.Clean(parent)
	childPath := filepath.Clean(child)
	rel, err := filepath.Rel(parentPath, childPath)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return false
	}
	return true
}

// ExpandUser replaces a leading ~ with the current user's home directory
func ExpandUser(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") && !strings.HasPrefix(path, "~"+string(os.PathSeparator)) {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// SplitAnnotated parses names such as "photo.png [output]" into the bare name and its
// storage type. Names without an annotation belong to the input root.
func SplitAnnotated(name string) (string, models.StorageType) {
	for _, t := range []models.StorageType{models.StorageInput, models.StorageOutput, models.StorageTemp} {
		suffix := " [" + string(t) + "]"
		if strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix), t
		}
	}
	return name, models.StorageInput
}

// AnnotatedPath resolves an annotated name to an absolute path inside its root
func (r *Roots) AnnotatedPath(name string) (string, error) {
	bare, t := SplitAnnotated(name)
	_, full, err := r.Resolve(t, "", bare)
	return full, err
}

// ExistsAnnotated reports whether the annotated name refers to an existing file
func (r *Roots) ExistsAnnotated(name string) bool {
	path, err := r.AnnotatedPath(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ListFiles returns the sorted names of regular files directly inside a root
func (r *Roots) ListFiles(t models.StorageType) ([]string, error) {
	root, err := r.Dir(t)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, kaperrors.NewFileSystemError("failed to list "+string(t)+" directory", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
