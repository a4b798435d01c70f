package identify

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/facegate/facegate/internal/config"
	"github.com/facegate/facegate/internal/imaging"
	"github.com/facegate/facegate/internal/model"
	"github.com/facegate/facegate/internal/vecstore"
)

// Pipeline orchestrates detection, preprocessing, embedding, search, and
// voting for one image against one tenant's index. Stateless per call;
// the only shared state is the model manager and the vector store.
type Pipeline struct {
	models     *model.Manager
	store      *vecstore.Store
	recog      config.RecognitionConfig
	faceSize   int
	datasetDir string
	log        *zap.Logger
}

// New creates a pipeline over the shared model manager and vector store.
func New(cfg *config.Config, models *model.Manager, store *vecstore.Store, log *zap.Logger) *Pipeline {
	return &Pipeline{
		models:     models,
		store:      store,
		recog:      cfg.Recognition,
		faceSize:   cfg.Model.FaceSize,
		datasetDir: cfg.Store.DatasetDir,
		log:        log,
	}
}

// ModelStatus reports model readiness for health endpoints.
func (p *Pipeline) ModelStatus() model.Status {
	return p.models.Describe()
}

// Identify detects all faces in the image and resolves each against the
// tenant's index. A failure on one face is embedded in that face's result
// and does not abort the others. Zero detected faces is a valid outcome
// with an empty face list, not an error.
func (p *Pipeline) Identify(ctx context.Context, imageBytes []byte, tenantID string) (*Outcome, error) {
	start := time.Now()

	img, err := imaging.Decode(imageBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}

	// Surface corruption before running inference.
	if err := p.store.OpenOrCreate(tenantID); err != nil {
		return nil, err
	}

	detections, detectTime, err := p.models.Detect(ctx, img, p.recog.ConfidenceThreshold)
	if err != nil {
		return nil, fmt.Errorf("detecting faces: %w", err)
	}

	if len(detections) == 0 {
		return &Outcome{
			Message:     "no faces detected in image",
			Faces:       []FaceResult{},
			DetectionMs: toMs(detectTime),
			TotalMs:     toMs(time.Since(start)),
		}, nil
	}

	faces := make([]FaceResult, 0, len(detections))
	for _, det := range detections {
		faces = append(faces, p.identifyFace(ctx, img, det, tenantID, detectTime))
	}

	return &Outcome{
		Message:     fmt.Sprintf("%d face(s) processed", len(detections)),
		Faces:       faces,
		DetectionMs: toMs(detectTime),
		TotalMs:     toMs(time.Since(start)),
	}, nil
}

// identifyFace runs one detection through crop, embed, search, and vote.
// Any failure produces a per-face error result with a fixed message so no
// internal error text leaks to callers.
func (p *Pipeline) identifyFace(ctx context.Context, img image.Image, det model.Detection, tenantID string, detectTime time.Duration) FaceResult {
	start := time.Now()

	embedding, embedTime, err := p.embedRegion(ctx, img, det.Box)
	if err != nil {
		p.log.Warn("face embedding failed",
			zap.String("tenant", tenantID), zap.Error(err))
		return faceError(det.Box, "failed to process face region")
	}

	neighbors, labels, err := p.store.Search(tenantID, embedding, p.recog.TopK)
	if err != nil {
		p.log.Warn("index search failed",
			zap.String("tenant", tenantID), zap.Error(err))
		return faceError(det.Box, "failed to search tenant index")
	}

	result := Classify(neighbors, labels, p.recog.VoteThreshold)
	result.Box = det.Box
	result.DetectionMs = toMs(detectTime)
	result.EmbeddingMs = toMs(embedTime)
	result.TotalMs = toMs(time.Since(start) + detectTime)
	return result
}

// embedRegion crops a detection, resizes it to the embedder's input
// geometry, and produces a unit-norm embedding.
func (p *Pipeline) embedRegion(ctx context.Context, img image.Image, box imaging.Box) ([]float32, time.Duration, error) {
	cropped, err := imaging.Crop(img, box)
	if err != nil {
		return nil, 0, fmt.Errorf("cropping face: %w", err)
	}
	resized := imaging.Resize(cropped, p.faceSize, p.faceSize)

	embedding, embedTime, err := p.models.Embed(ctx, resized)
	if err != nil {
		return nil, 0, fmt.Errorf("embedding face: %w", err)
	}
	if err := vecstore.Normalize(embedding); err != nil {
		return nil, 0, fmt.Errorf("normalizing embedding: %w", err)
	}
	return embedding, embedTime, nil
}

// Enroll adds one reference image for an identity to the tenant's index.
// The image must contain exactly one face; any other count is rejected
// and leaves the index unchanged. The resized crop is archived under the
// dataset directory, which is also the batch reindexer's source corpus.
func (p *Pipeline) Enroll(ctx context.Context, imageBytes []byte, tenantID, identity string) (*EnrollReceipt, error) {
	img, err := imaging.Decode(imageBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}

	// Open (or lazily create) the tenant's pair before inference so a
	// corrupted pair is reported without wasting model time.
	if err := p.store.OpenOrCreate(tenantID); err != nil {
		return nil, err
	}

	detections, _, err := p.models.Detect(ctx, img, p.recog.ConfidenceThreshold)
	if err != nil {
		return nil, fmt.Errorf("detecting faces: %w", err)
	}
	if len(detections) != 1 {
		return nil, &FaceCountError{Found: len(detections)}
	}

	cropped, err := imaging.Crop(img, detections[0].Box)
	if err != nil {
		return nil, fmt.Errorf("cropping face: %w", err)
	}
	resized := imaging.Resize(cropped, p.faceSize, p.faceSize)

	label := NormalizeIdentity(identity)
	identityDir := filepath.Join(p.datasetDir, tenantID, label)

	if err := p.checkDuplicate(identityDir, resized); err != nil {
		return nil, err
	}

	embedding, _, err := p.models.Embed(ctx, resized)
	if err != nil {
		return nil, fmt.Errorf("embedding face: %w", err)
	}
	if err := vecstore.Normalize(embedding); err != nil {
		return nil, fmt.Errorf("normalizing embedding: %w", err)
	}

	imagePath, refCount, err := p.archiveReference(identityDir, label, resized)
	if err != nil {
		return nil, err
	}

	count, err := p.store.Add(tenantID, embedding, label)
	if err != nil {
		return nil, fmt.Errorf("adding vector: %w", err)
	}
	if err := p.store.Persist(tenantID); err != nil {
		return nil, fmt.Errorf("persisting index: %w", err)
	}

	p.log.Info("enrolled reference image",
		zap.String("tenant", tenantID),
		zap.String("label", label),
		zap.Int("total_vectors", count))

	return &EnrollReceipt{
		Label:           label,
		TotalVectors:    count,
		ReferenceImages: refCount,
		ImagePath:       imagePath,
	}, nil
}

// checkDuplicate compares the crop's dHash against the identity's
// existing reference images and rejects near-duplicates.
func (p *Pipeline) checkDuplicate(identityDir string, crop image.Image) error {
	entries, err := os.ReadDir(identityDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading identity directory: %w", err)
	}

	hash := imaging.DHash(crop)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(identityDir, entry.Name()))
		if err != nil {
			continue
		}
		existing, err := imaging.Decode(data)
		if err != nil {
			continue
		}
		if imaging.Similar(hash, imaging.DHash(existing), p.recog.DuplicateHashThreshold) {
			return fmt.Errorf("%w: matches %s", ErrDuplicateReference, entry.Name())
		}
	}
	return nil
}

// archiveReference writes the resized crop into the identity's dataset
// folder and returns its path plus the folder's reference image count.
func (p *Pipeline) archiveReference(identityDir, label string, crop image.Image) (string, int, error) {
	if err := os.MkdirAll(identityDir, 0o750); err != nil {
		return "", 0, fmt.Errorf("creating identity directory: %w", err)
	}

	data, err := imaging.EncodeJPEG(crop)
	if err != nil {
		return "", 0, fmt.Errorf("encoding reference image: %w", err)
	}

	name := fmt.Sprintf("%s_%s_%s.jpg", label, time.Now().Format("20060102_150405"), uuid.NewString()[:8])
	path := filepath.Join(identityDir, name)
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", 0, fmt.Errorf("writing reference image: %w", err)
	}

	entries, err := os.ReadDir(identityDir)
	if err != nil {
		return path, 1, nil
	}
	return path, len(entries), nil
}

func toMs(d time.Duration) float64 {
	return round3(float64(d) / float64(time.Millisecond))
}
