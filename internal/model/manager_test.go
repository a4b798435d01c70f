package model

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/facegate/facegate/internal/config"
	"github.com/facegate/facegate/internal/imaging"
)

func testModelConfig() config.ModelConfig {
	return config.ModelConfig{
		DetectorPath:      "/models/detector.onnx",
		EmbedderPath:      "/models/embedder.onnx",
		DetectorInputSize: 64,
		FaceSize:          16,
		EmbeddingDim:      8,
	}
}

// countingFactory returns a Factory backed by mocks that counts how many
// times models were actually loaded.
func countingFactory(loads *atomic.Int32) Factory {
	return func(cfg config.ModelConfig, _ *zap.Logger) (Detector, Embedder, string, error) {
		loads.Add(1)
		return &MockDetector{}, &MockEmbedder{Dim: cfg.EmbeddingDim}, "cpu", nil
	}
}

func TestInitialize_Idempotent(t *testing.T) {
	var loads atomic.Int32
	m := NewManagerWithFactory(testModelConfig(), zap.NewNop(), countingFactory(&loads))

	for i := 0; i < 3; i++ {
		if err := m.Initialize(context.Background()); err != nil {
			t.Fatalf("Initialize failed: %v", err)
		}
	}

	if got := loads.Load(); got != 1 {
		t.Errorf("expected models loaded once, got %d loads", got)
	}
}

func TestInitialize_ConcurrentCallersLoadOnce(t *testing.T) {
	var loads atomic.Int32
	m := NewManagerWithFactory(testModelConfig(), zap.NewNop(), countingFactory(&loads))

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.Initialize(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Initialize failed: %v", err)
		}
	}
	if got := loads.Load(); got != 1 {
		t.Errorf("expected exactly one model load, got %d", got)
	}
	if !m.Describe().Ready {
		t.Error("expected manager to be ready")
	}
}

func TestInitialize_FailureAllowsRetry(t *testing.T) {
	var loads atomic.Int32
	loadErr := errors.New("artifact missing")
	factory := func(cfg config.ModelConfig, _ *zap.Logger) (Detector, Embedder, string, error) {
		if loads.Add(1) == 1 {
			return nil, nil, "", loadErr
		}
		return &MockDetector{}, &MockEmbedder{Dim: cfg.EmbeddingDim}, "cpu", nil
	}
	m := NewManagerWithFactory(testModelConfig(), zap.NewNop(), factory)

	if err := m.Initialize(context.Background()); !errors.Is(err, loadErr) {
		t.Fatalf("expected load error, got %v", err)
	}
	if m.Describe().Ready {
		t.Error("expected manager not ready after failed init")
	}

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if !m.Describe().Ready {
		t.Error("expected manager ready after retry")
	}
}

func TestDetectEmbed_BeforeInitialize(t *testing.T) {
	m := NewManagerWithFactory(testModelConfig(), zap.NewNop(), countingFactory(&atomic.Int32{}))
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))

	if _, _, err := m.Detect(context.Background(), img, 0.7); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized from Detect, got %v", err)
	}
	if _, _, err := m.Embed(context.Background(), img); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized from Embed, got %v", err)
	}
}

func TestDetect_FiltersByConfidence(t *testing.T) {
	detector := &MockDetector{Detections: []Detection{
		{Box: imaging.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}, Confidence: 0.9},
		{Box: imaging.Box{X1: 20, Y1: 20, X2: 30, Y2: 30}, Confidence: 0.5},
	}}
	factory := func(cfg config.ModelConfig, _ *zap.Logger) (Detector, Embedder, string, error) {
		return detector, &MockEmbedder{Dim: cfg.EmbeddingDim}, "cpu", nil
	}
	m := NewManagerWithFactory(testModelConfig(), zap.NewNop(), factory)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	detections, _, err := m.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 50, 50)), 0.7)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(detections) != 1 {
		t.Fatalf("expected 1 detection above threshold, got %d", len(detections))
	}
	if detections[0].Confidence != 0.9 {
		t.Errorf("expected confidence 0.9, got %v", detections[0].Confidence)
	}
}

func TestShutdown_AllowsReinitialize(t *testing.T) {
	var loads atomic.Int32
	m := NewManagerWithFactory(testModelConfig(), zap.NewNop(), countingFactory(&loads))

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if m.Describe().Ready {
		t.Error("expected manager not ready after shutdown")
	}

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("re-Initialize failed: %v", err)
	}
	if got := loads.Load(); got != 2 {
		t.Errorf("expected 2 loads after shutdown and re-init, got %d", got)
	}
}

func TestDescribe_Snapshot(t *testing.T) {
	m := NewManagerWithFactory(testModelConfig(), zap.NewNop(), countingFactory(&atomic.Int32{}))

	status := m.Describe()
	if status.Ready {
		t.Error("expected not ready before Initialize")
	}
	if status.EmbeddingDim != 8 {
		t.Errorf("expected embedding dim 8, got %d", status.EmbeddingDim)
	}
	if status.DetectorPath != "/models/detector.onnx" {
		t.Errorf("unexpected detector path %q", status.DetectorPath)
	}

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	status = m.Describe()
	if !status.Ready || status.Device != "cpu" {
		t.Errorf("expected ready on cpu, got %+v", status)
	}
}
