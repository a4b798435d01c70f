package identify

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"go.uber.org/zap"

	"github.com/facegate/facegate/internal/config"
	"github.com/facegate/facegate/internal/imaging"
	"github.com/facegate/facegate/internal/model"
	"github.com/facegate/facegate/internal/vecstore"
)

const (
	testTenant = "4f9c1b2a-8d3e-4a5b-9c7d-1e2f3a4b5c6d"
	testDim    = 12
)

// fill paints a rectangle of the image with a color.
func fill(img *image.RGBA, rect image.Rectangle, c color.RGBA) {
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

// solidJPEG encodes a width x height image filled with one color.
func solidJPEG(t *testing.T, width, height int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	fill(img, img.Bounds(), c)
	data, err := imaging.EncodeJPEG(img)
	if err != nil {
		t.Fatalf("encoding test image: %v", err)
	}
	return data
}

// newTestPipeline wires a pipeline over mock models and temp directories.
// duplicateThreshold -1 disables duplicate reference detection so tests
// can enroll visually identical crops.
func newTestPipeline(t *testing.T, detector *model.MockDetector, duplicateThreshold int) (*Pipeline, *vecstore.Store) {
	t.Helper()

	cfg := &config.Config{
		Model: config.ModelConfig{
			DetectorPath:      "/models/detector.onnx",
			EmbedderPath:      "/models/embedder.onnx",
			DetectorInputSize: 64,
			FaceSize:          16,
			EmbeddingDim:      testDim,
		},
		Store: config.StoreConfig{
			DataDir:    t.TempDir(),
			DatasetDir: t.TempDir(),
		},
		Recognition: config.RecognitionConfig{
			ConfidenceThreshold:    0.7,
			VoteThreshold:          0.75,
			TopK:                   10,
			DuplicateHashThreshold: duplicateThreshold,
		},
	}

	factory := func(mc config.ModelConfig, _ *zap.Logger) (model.Detector, model.Embedder, string, error) {
		return detector, &model.MockEmbedder{Dim: mc.EmbeddingDim}, "cpu", nil
	}
	manager := model.NewManagerWithFactory(cfg.Model, zap.NewNop(), factory)
	if err := manager.Initialize(context.Background()); err != nil {
		t.Fatalf("initializing models: %v", err)
	}

	store := vecstore.New(cfg.Store.DataDir, testDim, zap.NewNop())
	return New(cfg, manager, store, zap.NewNop()), store
}

func oneFace(box imaging.Box) *model.MockDetector {
	return &model.MockDetector{Detections: []model.Detection{
		{Box: box, Confidence: 0.95},
	}}
}

func TestIdentify_BadImage(t *testing.T) {
	p, _ := newTestPipeline(t, &model.MockDetector{}, -1)

	_, err := p.Identify(context.Background(), []byte("garbage"), testTenant)
	if !errors.Is(err, ErrBadImage) {
		t.Errorf("expected ErrBadImage, got %v", err)
	}
}

func TestIdentify_NoFaces(t *testing.T) {
	p, _ := newTestPipeline(t, &model.MockDetector{}, -1)
	img := solidJPEG(t, 100, 100, color.RGBA{R: 200, A: 255})

	outcome, err := p.Identify(context.Background(), img, testTenant)
	if err != nil {
		t.Fatalf("expected no error for zero faces, got %v", err)
	}
	if len(outcome.Faces) != 0 {
		t.Errorf("expected empty face list, got %d", len(outcome.Faces))
	}
	if outcome.Message != "no faces detected in image" {
		t.Errorf("unexpected message %q", outcome.Message)
	}
}

func TestIdentify_EmptyIndexIsNoMatch(t *testing.T) {
	p, _ := newTestPipeline(t, oneFace(imaging.Box{X1: 10, Y1: 10, X2: 60, Y2: 60}), -1)
	img := solidJPEG(t, 100, 100, color.RGBA{R: 220, G: 40, B: 40, A: 255})

	outcome, err := p.Identify(context.Background(), img, testTenant)
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if len(outcome.Faces) != 1 {
		t.Fatalf("expected 1 face, got %d", len(outcome.Faces))
	}
	if outcome.Faces[0].Status != StatusNoMatch {
		t.Errorf("expected no_match against empty index, got %s", outcome.Faces[0].Status)
	}
}

func TestIdentify_PerFaceErrorDoesNotAbortBatch(t *testing.T) {
	// Left region is red, right region is black. The black crop embeds
	// to the zero vector, which must fail that face only.
	detector := &model.MockDetector{Detections: []model.Detection{
		{Box: imaging.Box{X1: 0, Y1: 0, X2: 50, Y2: 100}, Confidence: 0.9},
		{Box: imaging.Box{X1: 50, Y1: 0, X2: 100, Y2: 100}, Confidence: 0.9},
	}}
	p, _ := newTestPipeline(t, detector, -1)

	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	fill(img, image.Rect(0, 0, 50, 100), color.RGBA{R: 230, A: 255})
	fill(img, image.Rect(50, 0, 100, 100), color.RGBA{A: 255})
	// PNG keeps the black half exactly zero; JPEG block artifacts would
	// bleed red across the boundary.
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding test image: %v", err)
	}
	data := buf.Bytes()

	outcome, err := p.Identify(context.Background(), data, testTenant)
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if len(outcome.Faces) != 2 {
		t.Fatalf("expected 2 faces, got %d", len(outcome.Faces))
	}

	var errorCount, okCount int
	for _, face := range outcome.Faces {
		switch face.Status {
		case StatusError:
			errorCount++
			if face.Error == "" {
				t.Error("expected error message on failed face")
			}
		default:
			okCount++
		}
	}
	if errorCount != 1 || okCount != 1 {
		t.Errorf("expected 1 failed and 1 processed face, got %d failed, %d processed", errorCount, okCount)
	}
}

func TestEnroll_RejectsWrongFaceCount(t *testing.T) {
	detector := &model.MockDetector{Detections: []model.Detection{
		{Box: imaging.Box{X1: 0, Y1: 0, X2: 40, Y2: 40}, Confidence: 0.9},
		{Box: imaging.Box{X1: 60, Y1: 0, X2: 100, Y2: 40}, Confidence: 0.9},
	}}
	p, store := newTestPipeline(t, detector, -1)
	img := solidJPEG(t, 100, 100, color.RGBA{R: 200, A: 255})

	before, err := store.Count(testTenant)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}

	_, err = p.Enroll(context.Background(), img, testTenant, "Alice")
	var fce *FaceCountError
	if !errors.As(err, &fce) {
		t.Fatalf("expected FaceCountError, got %v", err)
	}
	if fce.Found != 2 {
		t.Errorf("expected found=2, got %d", fce.Found)
	}
	if fce.Error() != "expected 1 face, found 2" {
		t.Errorf("unexpected error message %q", fce.Error())
	}

	after, err := store.Count(testTenant)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if before != after {
		t.Errorf("index changed on rejected enrollment: %d -> %d", before, after)
	}
}

func TestEnroll_DuplicateReferenceRejected(t *testing.T) {
	p, store := newTestPipeline(t, oneFace(imaging.Box{X1: 10, Y1: 10, X2: 60, Y2: 60}), 8)
	img := solidJPEG(t, 100, 100, color.RGBA{R: 210, G: 90, B: 60, A: 255})

	if _, err := p.Enroll(context.Background(), img, testTenant, "Alice"); err != nil {
		t.Fatalf("first enrollment failed: %v", err)
	}

	_, err := p.Enroll(context.Background(), img, testTenant, "Alice")
	if !errors.Is(err, ErrDuplicateReference) {
		t.Errorf("expected ErrDuplicateReference, got %v", err)
	}

	count, err := store.Count(testTenant)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 vector after duplicate rejection, got %d", count)
	}
}

func TestEnrollIdentify_VotingScenario(t *testing.T) {
	// Three reference images for alice (red cluster), one for bob
	// (blue). A red query must identify alice with status ok.
	p, _ := newTestPipeline(t, oneFace(imaging.Box{X1: 10, Y1: 10, X2: 90, Y2: 90}), -1)
	ctx := context.Background()

	reds := []color.RGBA{
		{R: 255, G: 10, B: 10, A: 255},
		{R: 240, G: 20, B: 15, A: 255},
		{R: 250, G: 5, B: 20, A: 255},
	}
	for _, c := range reds {
		if _, err := p.Enroll(ctx, solidJPEG(t, 100, 100, c), testTenant, "Alice"); err != nil {
			t.Fatalf("enrolling alice: %v", err)
		}
	}
	receipt, err := p.Enroll(ctx, solidJPEG(t, 100, 100, color.RGBA{B: 250, G: 10, R: 10, A: 255}), testTenant, "Bob")
	if err != nil {
		t.Fatalf("enrolling bob: %v", err)
	}
	if receipt.TotalVectors != 4 {
		t.Errorf("expected 4 vectors after enrollment, got %d", receipt.TotalVectors)
	}

	outcome, err := p.Identify(ctx, solidJPEG(t, 100, 100, color.RGBA{R: 245, G: 12, B: 12, A: 255}), testTenant)
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if len(outcome.Faces) != 1 {
		t.Fatalf("expected 1 face, got %d", len(outcome.Faces))
	}

	face := outcome.Faces[0]
	if face.Status != StatusOK {
		t.Errorf("expected status ok, got %s (confidence %v)", face.Status, face.Confidence)
	}
	if face.Label != "alice" {
		t.Errorf("expected label alice, got %q", face.Label)
	}
	if face.Confidence < 0.75 {
		t.Errorf("expected confidence >= 0.75, got %v", face.Confidence)
	}
}

func TestEnroll_PersistsAcrossReload(t *testing.T) {
	p, store := newTestPipeline(t, oneFace(imaging.Box{X1: 10, Y1: 10, X2: 60, Y2: 60}), -1)
	img := solidJPEG(t, 100, 100, color.RGBA{R: 180, G: 60, B: 60, A: 255})

	receipt, err := p.Enroll(context.Background(), img, testTenant, "Jan Novák")
	if err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	if receipt.Label != "id_jan_novak" {
		t.Errorf("expected normalized label id_jan_novak, got %q", receipt.Label)
	}

	// A fresh store over the same directory must see the enrollment.
	fresh := vecstore.New(store.Dir(), testDim, zap.NewNop())
	count, err := fresh.Count(testTenant)
	if err != nil {
		t.Fatalf("Count after reload failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 persisted vector, got %d", count)
	}
}
