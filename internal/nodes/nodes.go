// Package nodes defines the image-loading node classes exposed to the graph host.
package nodes

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/kapnodes/kapimage/internal/digest"
	"github.com/kapnodes/kapimage/internal/folders"
	kaperrors "github.com/kapnodes/kapimage/pkg/errors"
	"github.com/kapnodes/kapimage/pkg/models"
)

const (
	ClassLoadImageDedup  = "LoadImageDedup"
	ClassLoadImageByPath = "LoadImageByPath"

	category = "image"
)

// InputSpec describes one node input
type InputSpec struct {
	Name     string          `json:"name"`
	Kind     string          `json:"kind"` // "choice" or "string"
	Options  []string        `json:"options,omitempty"`
	Default  string          `json:"default,omitempty"`
	Required bool            `json:"required"`
	Flags    map[string]bool `json:"flags,omitempty"`
}

// Definition is the host-facing description of a node class
type Definition struct {
	Class       string      `json:"name"`
	DisplayName string      `json:"display_name"`
	Category    string      `json:"category"`
	Inputs      []InputSpec `json:"input"`
	Outputs     []string    `json:"output"`
}

// Node is an image-loading node class
type Node interface {
	Definition() (Definition, error)
	// Validate returns a client input error describing why image cannot be loaded
	Validate(image string) error
	// IsChanged returns a fingerprint that changes whenever the image content changes
	IsChanged(image string) (string, error)
	Load(ctx context.Context, image string) (*Output, error)
}

// Previewer converts formats the decoder cannot read into a readable preview
type Previewer interface {
	Generate(ctx context.Context, source string) (models.PreviewResult, error)
}

// Registry maps class names to nodes
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]Node
	names map[string]string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		nodes: make(map[string]Node),
		names: make(map[string]string),
	}
}

// NewDefaultRegistry registers both image-loading nodes. cache and previewer may be nil.
func NewDefaultRegistry(roots *folders.Roots, cache *digest.Cache, previewer Previewer) *Registry {
	r := NewRegistry()
	r.Register(ClassLoadImageDedup, "Load Image Dedup", &LoadImageDedup{roots: roots, cache: cache})
	r.Register(ClassLoadImageByPath, "Load Image By Path", &LoadImageByPath{cache: cache, previewer: previewer})
	return r
}

// Register adds or replaces a node class
func (r *Registry) Register(class, displayName string, node Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[class] = node
	r.names[class] = displayName
}

// Get returns the node registered under class
func (r *Registry) Get(class string) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[class]
	return n, ok
}

// DisplayName returns the human readable title of class
func (r *Registry) DisplayName(class string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names[class]
}

// Classes returns registered class names in sorted order
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	classes := make([]string, 0, len(r.nodes))
	for class := range r.nodes {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	return classes
}

// Definitions returns every node definition keyed by class
func (r *Registry) Definitions() (map[string]Definition, error) {
	defs := make(map[string]Definition)
	for _, class := range r.Classes() {
		node, _ := r.Get(class)
		def, err := node.Definition()
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", class, err)
		}
		def.Class = class
		def.DisplayName = r.DisplayName(class)
		defs[class] = def
	}
	return defs, nil
}

// LoadImageDedup loads an image from the input root, picked from the files already there
type LoadImageDedup struct {
	roots *folders.Roots
	cache *digest.Cache
}

func (n *LoadImageDedup) Definition() (Definition, error) {
	files, err := n.roots.ListFiles(models.StorageInput)
	if err != nil {
		return Definition{}, err
	}
	if files == nil {
		files = []string{}
	}
	policies := make([]string, 0, len(models.OverwritePolicies))
	for _, p := range models.OverwritePolicies {
		policies = append(policies, string(p))
	}

	return Definition{
		Category: category,
		Inputs: []InputSpec{
			{Name: "image", Kind: "choice", Options: files, Required: true, Flags: map[string]bool{"kap_load_image_dedup": true}},
			{Name: "overwrite_option", Kind: "choice", Options: policies, Default: string(models.PolicyNoOverwrite)},
		},
		Outputs: []string{"IMAGE", "MASK"},
	}, nil
}

func (n *LoadImageDedup) Validate(image string) error {
	if !n.roots.ExistsAnnotated(image) {
		return kaperrors.NewClientInputError(fmt.Sprintf("Invalid input image: '%s'", image), nil)
	}
	return nil
}

func (n *LoadImageDedup) IsChanged(image string) (string, error) {
	path, err := n.roots.AnnotatedPath(image)
	if err != nil {
		return "", err
	}
	return fingerprint(n.cache, path)
}

func (n *LoadImageDedup) Load(ctx context.Context, image string) (*Output, error) {
	if err := n.Validate(image); err != nil {
		return nil, err
	}
	path, err := n.roots.AnnotatedPath(image)
	if err != nil {
		return nil, err
	}
	return decodeFile(path)
}

// LoadImageByPath loads an image from an arbitrary filesystem path
type LoadImageByPath struct {
	cache     *digest.Cache
	previewer Previewer
}

func (n *LoadImageByPath) Definition() (Definition, error) {
	return Definition{
		Category: category,
		Inputs: []InputSpec{
			{Name: "image", Kind: "string", Default: "/path/to/image.psd", Required: true, Flags: map[string]bool{"kap_load_image_by_path": true}},
		},
		Outputs: []string{"IMAGE", "MASK"},
	}, nil
}

func (n *LoadImageByPath) Validate(image string) error {
	info, err := os.Stat(folders.ExpandUser(image))
	if err != nil || !info.Mode().IsRegular() {
		return kaperrors.NewClientInputError(fmt.Sprintf("Invalid input image: '%s'", image), err)
	}
	return nil
}

func (n *LoadImageByPath) IsChanged(image string) (string, error) {
	return fingerprint(n.cache, folders.ExpandUser(image))
}

// Load decodes the file directly, falling back to its converted preview for layered formats
func (n *LoadImageByPath) Load(ctx context.Context, image string) (*Output, error) {
	if err := n.Validate(image); err != nil {
		return nil, err
	}

	out, err := decodeFile(folders.ExpandUser(image))
	if err == nil || n.previewer == nil || !kaperrors.IsClientInputError(err) {
		return out, err
	}

	res, perr := n.previewer.Generate(ctx, image)
	if perr != nil || !res.Success {
		return nil, err
	}
	return decodeFile(res.PreviewFilepath)
}

func fingerprint(cache *digest.Cache, path string) (string, error) {
	sum, err := cache.FileDigest(digest.XXHash, path)
	if err != nil {
		return "", kaperrors.NewNotFoundError("failed to read image", err).WithContext("path", path)
	}
	return sum, nil
}
