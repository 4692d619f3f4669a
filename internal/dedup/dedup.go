// Package dedup stores uploaded images under an overwrite policy without creating
// byte-identical copies under numbered names.
package dedup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/kapnodes/kapimage/internal/digest"
	"github.com/kapnodes/kapimage/internal/folders"
	"github.com/kapnodes/kapimage/internal/workers"
	kaperrors "github.com/kapnodes/kapimage/pkg/errors"
	"github.com/kapnodes/kapimage/pkg/logger"
	"github.com/kapnodes/kapimage/pkg/models"
	"go.uber.org/zap"
)

// scratchPrefix marks in-flight upload files so they are easy to spot and never collide
const scratchPrefix = ".kap-upload-"

// Request describes one upload
type Request struct {
	Filename  string
	Subfolder string
	Type      models.StorageType
	Policy    models.OverwritePolicy
	Body      io.Reader
}

// Deduplicator decides the on-disk fate of uploads
type Deduplicator struct {
	roots  *folders.Roots
	cache  *digest.Cache
	pool   *workers.Pool
	logger *zap.Logger
}

// NewDeduplicator creates a deduplicator. cache and pool may be nil.
func NewDeduplicator(roots *folders.Roots, cache *digest.Cache, pool *workers.Pool) *Deduplicator {
	return &Deduplicator{
		roots:  roots,
		cache:  cache,
		pool:   pool,
		logger: logger.Get(),
	}
}

// Upload stores req.Body according to req.Policy and reports where it ended up.
// At most one file is written; client mistakes are returned as client input errors.
func (d *Deduplicator) Upload(ctx context.Context, req Request) (*models.UploadResult, error) {
	if req.Body == nil {
		return nil, kaperrors.NewClientInputError("missing file payload", nil)
	}
	if req.Filename == "" {
		return nil, kaperrors.NewClientInputError("missing filename", nil)
	}
	policy, err := models.ParseOverwritePolicy(string(req.Policy))
	if err != nil {
		return nil, kaperrors.NewClientInputError("invalid overwrite policy", err)
	}
	storageType, err := models.ParseStorageType(string(req.Type))
	if err != nil {
		return nil, kaperrors.NewClientInputError("invalid storage type", err)
	}

	dir, candidate, err := d.roots.Resolve(storageType, req.Subfolder, req.Filename)
	if err != nil {
		return nil, err
	}

	var decision models.UploadDecision
	run := func(ctx context.Context) error {
		var err error
		decision, err = d.decideAndWrite(ctx, policy, dir, filepath.Base(candidate), req.Body)
		return err
	}
	if d.pool != nil {
		err = d.pool.Do(ctx, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		return nil, err
	}

	return &models.UploadResult{
		Name:      decision.FinalFilename,
		Subfolder: req.Subfolder,
		Type:      storageType,
		Decision:  decision,
	}, nil
}

func (d *Deduplicator) decideAndWrite(ctx context.Context, policy models.OverwritePolicy, dir, name string, body io.Reader) (models.UploadDecision, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return models.UploadDecision{}, kaperrors.NewFileSystemError("failed to create upload directory", err)
	}

	switch policy {
	case models.PolicyInputFilename:
		d.logger.Info("(Over)writing requested filename", zap.String("name", name))
		return d.writeStream(ctx, dir, name, body)

	case models.PolicyLastRename:
		group, err := FindSameNameGroup(dir, name)
		if err != nil {
			return models.UploadDecision{}, kaperrors.NewFileSystemError("failed to list upload directory", err)
		}
		if last, ok := group.LastRename(); ok {
			d.logger.Info("Overwriting last rename", zap.String("name", last))
			name = last
		} else {
			d.logger.Info("(Over)writing original because no renames exist", zap.String("name", name))
		}
		return d.writeStream(ctx, dir, name, body)

	default:
		return d.uploadNoOverwrite(ctx, dir, name, body)
	}
}

// uploadNoOverwrite buffers the single-pass upload into a scratch file while hashing it,
// then either reports an identical sibling or moves the scratch file into a free name.
func (d *Deduplicator) uploadNoOverwrite(ctx context.Context, dir, name string, body io.Reader) (models.UploadDecision, error) {
	scratch, sum, err := d.bufferToScratch(ctx, filepath.Ext(name), body)
	if err != nil {
		return models.UploadDecision{}, err
	}
	defer os.Remove(scratch)

	group, err := FindSameNameGroup(dir, name)
	if err != nil {
		return models.UploadDecision{}, kaperrors.NewFileSystemError("failed to list upload directory", err)
	}

	if original, ok := group.Original(); ok {
		if d.sameDigest(filepath.Join(dir, original), sum) {
			d.logger.Info("Found duplicate", zap.String("name", original))
			return models.UploadDecision{FinalFilename: original, DuplicateOf: original, Hash: sum}, nil
		}
	}
	if last, ok := group.LastRename(); ok {
		if d.sameDigest(filepath.Join(dir, last), sum) {
			d.logger.Info("Found duplicate", zap.String("name", last))
			return models.UploadDecision{FinalFilename: last, DuplicateOf: last, Hash: sum}, nil
		}
	}

	d.logger.Info("No duplicate found", zap.String("name", name))

	target, err := claimFreeName(dir, name)
	if err != nil {
		return models.UploadDecision{}, kaperrors.NewFileSystemError("failed to reserve upload filename", err)
	}
	if err := moveInto(scratch, filepath.Join(dir, target)); err != nil {
		os.Remove(filepath.Join(dir, target))
		return models.UploadDecision{}, kaperrors.NewFileSystemError("failed to write upload", err)
	}
	_ = d.cache.Forget(filepath.Join(dir, target))

	d.logger.Info("Stored upload",
		zap.String("requested", name),
		zap.String("stored", target),
	)
	return models.UploadDecision{FinalFilename: target, DidWrite: true, Hash: sum}, nil
}

func (d *Deduplicator) bufferToScratch(ctx context.Context, ext string, body io.Reader) (string, string, error) {
	if err := os.MkdirAll(d.roots.Temp, 0755); err != nil {
		return "", "", kaperrors.NewFileSystemError("failed to create temp directory", err)
	}
	scratch := filepath.Join(d.roots.Temp, scratchPrefix+uuid.NewString()+ext)
	f, err := os.OpenFile(scratch, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", "", kaperrors.NewFileSystemError("failed to create scratch file", err)
	}

	h, _ := digest.NewHash(digest.SHA256)
	_, copyErr := io.Copy(io.MultiWriter(f, h), contextReader{ctx: ctx, r: body})
	closeErr := f.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		os.Remove(scratch)
		return "", "", kaperrors.NewFileSystemError("failed to buffer upload", copyErr)
	}
	return scratch, fmt.Sprintf("%x", h.Sum(nil)), nil
}

func (d *Deduplicator) sameDigest(path, sum string) bool {
	existing, err := d.cache.FileDigest(digest.SHA256, path)
	if err != nil {
		d.logger.Warn("Failed to hash existing file", zap.String("path", path), zap.Error(err))
		return false
	}
	return existing == sum
}

// writeStream replaces dir/name with the contents of body via a sibling temp file
func (d *Deduplicator) writeStream(ctx context.Context, dir, name string, body io.Reader) (models.UploadDecision, error) {
	target := filepath.Join(dir, name)
	_, statErr := os.Lstat(target)
	overwritten := statErr == nil

	tmp, err := os.CreateTemp(dir, scratchPrefix+"*")
	if err != nil {
		return models.UploadDecision{}, kaperrors.NewFileSystemError("failed to create upload file", err)
	}
	h, _ := digest.NewHash(digest.SHA256)
	_, copyErr := io.Copy(io.MultiWriter(tmp, h), contextReader{ctx: ctx, r: body})
	closeErr := tmp.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr == nil {
		copyErr = os.Chmod(tmp.Name(), 0644)
	}
	if copyErr == nil {
		copyErr = os.Rename(tmp.Name(), target)
	}
	if copyErr != nil {
		os.Remove(tmp.Name())
		return models.UploadDecision{}, kaperrors.NewFileSystemError("failed to write upload", copyErr)
	}
	_ = d.cache.Forget(target)

	return models.UploadDecision{
		FinalFilename: name,
		DidWrite:      true,
		Overwritten:   overwritten,
		Hash:          fmt.Sprintf("%x", h.Sum(nil)),
	}, nil
}

// claimFreeName atomically creates an empty placeholder at name, or at the smallest free
// "stem (i).ext", and returns the claimed name
func claimFreeName(dir, name string) (string, error) {
	candidate := name
	for i := uint64(1); ; i++ {
		f, err := os.OpenFile(filepath.Join(dir, candidate), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			return candidate, f.Close()
		}
		if !os.IsExist(err) {
			return "", err
		}
		candidate = RenameName(name, i)
	}
}

// moveInto renames src over dst, copying when they live on different filesystems
func moveInto(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// contextReader stops a copy once ctx is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
