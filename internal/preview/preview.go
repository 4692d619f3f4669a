// Package preview produces lightweight preview images in the temp root and announces them
// to connected clients.
package preview

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kapnodes/kapimage/internal/digest"
	"github.com/kapnodes/kapimage/internal/events"
	"github.com/kapnodes/kapimage/internal/folders"
	"github.com/kapnodes/kapimage/internal/workers"
	kaperrors "github.com/kapnodes/kapimage/pkg/errors"
	"github.com/kapnodes/kapimage/pkg/logger"
	"github.com/kapnodes/kapimage/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// PreviewType is the storage type previews live in
const PreviewType = string(models.StorageTemp)

const namePrefix = "preview_"

var copyFormats = map[string]bool{"jpg": true, "jpeg": true, "png": true, "webp": true, "gif": true}

var convertFormats = map[string]bool{"psd": true, "xcf": true}

// Config configures a Generator
type Config struct {
	Converter Converter
	Timeout   time.Duration // deadline for one conversion
}

// Generator creates previews for source images
type Generator struct {
	roots     *folders.Roots
	pool      *workers.Pool
	hub       *events.Hub
	converter Converter
	timeout   time.Duration
	group     singleflight.Group
	logger    *zap.Logger
}

// NewGenerator creates a generator. pool and hub may be nil.
func NewGenerator(roots *folders.Roots, pool *workers.Pool, hub *events.Hub, config Config) *Generator {
	if config.Converter == nil {
		config.Converter = NewExecConverter("")
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Minute
	}
	return &Generator{
		roots:     roots,
		pool:      pool,
		hub:       hub,
		converter: config.Converter,
		timeout:   config.Timeout,
		logger:    logger.Get(),
	}
}

// PreviewName derives the preview filename from the path string exactly as submitted.
// It reports false for formats that cannot be previewed.
func PreviewName(source string) (string, bool) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(source), "."))
	stem := namePrefix + digest.String(digest.MD5, source)
	switch {
	case copyFormats[ext]:
		return stem + "." + ext, true
	case convertFormats[ext]:
		return stem + ".png", true
	default:
		return "", false
	}
}

// Generate writes the preview for source into the temp root. A missing source is a
// not-found error; an unsupported format or failed conversion returns Success=false.
func (g *Generator) Generate(ctx context.Context, source string) (models.PreviewResult, error) {
	if source == "" {
		return models.PreviewResult{}, kaperrors.NewClientInputError("missing image path", nil)
	}

	realPath := folders.ExpandUser(source)
	info, err := os.Stat(realPath)
	if err != nil {
		return models.PreviewResult{}, kaperrors.NewNotFoundError("image not found", err).WithContext("path", source)
	}
	if !info.Mode().IsRegular() {
		return models.PreviewResult{}, kaperrors.NewNotFoundError("not a regular file", nil).WithContext("path", source)
	}

	name, ok := PreviewName(source)
	if !ok {
		g.logger.Warn("Unrecognized image format", zap.String("path", source))
		return models.PreviewResult{}, kaperrors.NewClientInputError("unsupported image format", nil).WithContext("path", source)
	}

	if err := os.MkdirAll(g.roots.Temp, 0755); err != nil {
		return models.PreviewResult{}, kaperrors.NewFileSystemError("failed to create temp directory", err)
	}
	previewPath := filepath.Join(g.roots.Temp, name)
	needsConversion := convertFormats[strings.ToLower(strings.TrimPrefix(filepath.Ext(source), "."))]

	_, err, shared := g.group.Do(previewPath, func() (interface{}, error) {
		if needsConversion {
			return nil, g.convert(ctx, realPath, previewPath)
		}
		return nil, copyPreview(realPath, previewPath)
	})
	if err != nil {
		g.logger.Warn("Failed to generate preview",
			zap.String("path", source),
			zap.Bool("converted", needsConversion),
			zap.Error(err),
		)
		return models.PreviewResult{PreviewFilename: name, PreviewFilepath: previewPath, Converted: needsConversion}, err
	}

	g.logger.Info("Preview generated",
		zap.String("path", source),
		zap.String("preview", previewPath),
		zap.Bool("shared", shared),
	)
	return models.PreviewResult{
		Success:         true,
		PreviewFilename: name,
		PreviewFilepath: previewPath,
		Converted:       needsConversion,
	}, nil
}

func (g *Generator) convert(ctx context.Context, src, dst string) error {
	g.logger.Info("Converting image to png", zap.String("path", src))
	run := func(ctx context.Context) error {
		return g.converter.Convert(ctx, src, dst)
	}

	var err error
	if g.pool != nil {
		err = g.pool.DoTimeout(ctx, g.timeout, run)
	} else {
		tctx, cancel := context.WithTimeout(ctx, g.timeout)
		err = run(tctx)
		cancel()
	}
	if err != nil && !kaperrors.IsExternalToolError(err) {
		err = kaperrors.NewExternalToolError("image conversion failed", err)
	}
	return err
}

// copyPreview copies src to dst through a sibling temp file so readers never see a
// partial preview. A directory occupying dst is removed first.
func copyPreview(src, dst string) error {
	if info, err := os.Lstat(dst); err == nil && info.IsDir() {
		if err := os.RemoveAll(dst); err != nil {
			return kaperrors.NewFileSystemError("failed to remove directory at preview path", err)
		}
	}

	in, err := os.Open(src)
	if err != nil {
		return kaperrors.NewFileSystemError("failed to open source image", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".preview-*")
	if err != nil {
		return kaperrors.NewFileSystemError("failed to create preview file", err)
	}
	_, err = io.Copy(tmp, in)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tmp.Name(), 0644)
	}
	if err == nil {
		err = os.Rename(tmp.Name(), dst)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return kaperrors.NewFileSystemError("failed to write preview", err)
	}
	return nil
}

// Notify tells clients that the preview for source was regenerated. It reports false
// when the preview file does not exist.
func (g *Generator) Notify(source, previewFilename string) bool {
	previewPath := filepath.Join(g.roots.Temp, previewFilename)
	info, err := os.Stat(previewPath)
	if err != nil || !info.Mode().IsRegular() {
		g.logger.Warn("Preview file does not exist", zap.String("preview", previewPath))
		return false
	}

	g.hub.PublishPreview(models.PreviewEvent{
		Path:            source,
		PreviewFilename: previewFilename,
		PreviewType:     PreviewType,
	})
	return true
}

// Regenerate rebuilds the preview of a modified watch entry and notifies clients.
// It has the shape of a watch handler.
func (g *Generator) Regenerate(entry models.WatchEntry, event models.ChangeEvent) {
	source := entry.Source
	if source == "" {
		source = entry.Path
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	result, err := g.Generate(ctx, source)
	if err != nil || !result.Success {
		g.logger.Warn("Failed to regenerate preview",
			zap.String("path", source),
			zap.String("event", event.ID),
			zap.Error(err),
		)
		return
	}
	g.Notify(source, result.PreviewFilename)
}
