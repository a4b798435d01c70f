// Package reindex rebuilds a tenant's vector index wholesale from its
// reference image corpus. This is the recovery path when the store
// reports corruption, and doubles as a consistency check: the rebuilt
// pair replaces whatever was on disk.
package reindex

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/facegate/facegate/internal/imaging"
	"github.com/facegate/facegate/internal/vecstore"
)

// Embedder is the subset of the model layer the reindexer needs.
// *model.Manager satisfies it.
type Embedder interface {
	Embed(ctx context.Context, face image.Image) ([]float32, time.Duration, error)
}

// Result summarizes one tenant rebuild.
type Result struct {
	TenantID      string `json:"tenant_id"`
	Identities    int    `json:"identities"`
	ImagesIndexed int    `json:"images_indexed"`
	ImagesSkipped int    `json:"images_skipped"`
	DurationMs    int64  `json:"duration_ms"`
}

// Reindexer rebuilds tenant indices from reference images.
type Reindexer struct {
	store      *vecstore.Store
	embedder   Embedder
	datasetDir string
	log        *zap.Logger
	progress   bool
}

// New creates a reindexer. When progress is true a progress bar is
// rendered to stderr; disable it for scripted or JSON output.
func New(store *vecstore.Store, embedder Embedder, datasetDir string, log *zap.Logger, progress bool) *Reindexer {
	return &Reindexer{
		store:      store,
		embedder:   embedder,
		datasetDir: datasetDir,
		log:        log,
		progress:   progress,
	}
}

// isImageFile reports whether a file name looks like a reference image.
func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".bmp":
		return true
	}
	return false
}

// Rebuild embeds every reference image under the tenant's dataset folder
// (one subdirectory per identity, images already cropped to the face) and
// replaces the tenant's index/labels pair wholesale. Images that fail to
// decode or embed are skipped with a warning; the rebuild is
// partial-failure tolerant, not fail-fast.
func (r *Reindexer) Rebuild(ctx context.Context, tenantID string) (*Result, error) {
	start := time.Now()
	tenantDir := filepath.Join(r.datasetDir, tenantID)

	entries, err := os.ReadDir(tenantDir)
	if err != nil {
		return nil, fmt.Errorf("reading tenant dataset directory: %w", err)
	}

	var identities []string
	for _, entry := range entries {
		if entry.IsDir() {
			identities = append(identities, entry.Name())
		}
	}

	var bar *progressbar.ProgressBar
	if r.progress {
		bar = progressbar.Default(int64(len(identities)), "Rebuilding index")
	}

	var vectors [][]float32
	var labels []string
	result := &Result{TenantID: tenantID, Identities: len(identities)}

	for _, identity := range identities {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		identityDir := filepath.Join(tenantDir, identity)
		files, err := os.ReadDir(identityDir)
		if err != nil {
			r.log.Warn("skipping unreadable identity directory",
				zap.String("identity", identity), zap.Error(err))
			continue
		}

		for _, file := range files {
			if file.IsDir() || !isImageFile(file.Name()) {
				continue
			}

			path := filepath.Join(identityDir, file.Name())
			embedding, err := r.embedFile(ctx, path)
			if err != nil {
				result.ImagesSkipped++
				r.log.Warn("skipping reference image",
					zap.String("path", path), zap.Error(err))
				continue
			}

			vectors = append(vectors, embedding)
			labels = append(labels, identity)
			result.ImagesIndexed++
		}

		if bar != nil {
			_ = bar.Add(1)
		}
	}

	if err := r.store.Replace(tenantID, vectors, labels); err != nil {
		return nil, fmt.Errorf("replacing tenant index: %w", err)
	}

	result.DurationMs = time.Since(start).Milliseconds()
	r.log.Info("rebuilt tenant index",
		zap.String("tenant", tenantID),
		zap.Int("identities", result.Identities),
		zap.Int("indexed", result.ImagesIndexed),
		zap.Int("skipped", result.ImagesSkipped))
	return result, nil
}

// embedFile decodes one reference image and produces a unit-norm
// embedding. Reference images are already cropped to the face, so no
// detection pass is needed.
func (r *Reindexer) embedFile(ctx context.Context, path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	img, err := imaging.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	embedding, _, err := r.embedder.Embed(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("embedding image: %w", err)
	}
	if err := vecstore.Normalize(embedding); err != nil {
		return nil, fmt.Errorf("normalizing embedding: %w", err)
	}
	return embedding, nil
}
