package model

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/facegate/facegate/internal/config"
)

// ErrNotInitialized is returned when Detect or Embed is called before
// Initialize has completed.
var ErrNotInitialized = errors.New("models not initialized")

// Status is a read-only snapshot of model state for health reporting.
type Status struct {
	Ready        bool   `json:"ready"`
	Device       string `json:"device"`
	EmbeddingDim int    `json:"embedding_dim"`
	DetectorPath string `json:"detector_path"`
	EmbedderPath string `json:"embedder_path"`
}

// Factory loads the detector and embedder, returning them along with the
// compute device they landed on.
type Factory func(cfg config.ModelConfig, log *zap.Logger) (Detector, Embedder, string, error)

// initAttempt tracks one in-flight initialization so that concurrent
// callers await its outcome instead of starting a second load.
type initAttempt struct {
	done chan struct{}
	err  error
}

// Manager holds exactly one detector and one embedder per process. The
// process owns a single Manager and hands it to request handlers by
// reference.
type Manager struct {
	cfg       config.ModelConfig
	log       *zap.Logger
	newModels Factory

	mu          sync.Mutex
	initialized bool
	attempt     *initAttempt
	detector    Detector
	embedder    Embedder
	device      string
}

// NewManager creates a manager that loads ONNX models on Initialize.
func NewManager(cfg config.ModelConfig, log *zap.Logger) *Manager {
	return NewManagerWithFactory(cfg, log, newONNXModels)
}

// NewManagerWithFactory creates a manager with a custom model factory.
func NewManagerWithFactory(cfg config.ModelConfig, log *zap.Logger, factory Factory) *Manager {
	return &Manager{
		cfg:       cfg,
		log:       log,
		newModels: factory,
	}
}

// Initialize loads both models and runs a warm-up inference. Idempotent:
// once initialized it returns immediately, and concurrent callers during
// the first load wait for that load rather than starting another. After
// a failed attempt the next call retries.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return nil
	}
	if m.attempt != nil {
		a := m.attempt
		m.mu.Unlock()
		select {
		case <-a.done:
			return a.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	a := &initAttempt{done: make(chan struct{})}
	m.attempt = a
	m.mu.Unlock()

	detector, embedder, device, err := m.loadAndWarmUp(ctx)

	m.mu.Lock()
	if err == nil {
		m.detector = detector
		m.embedder = embedder
		m.device = device
		m.initialized = true
	}
	m.attempt = nil
	m.mu.Unlock()

	a.err = err
	close(a.done)
	return err
}

func (m *Manager) loadAndWarmUp(ctx context.Context) (Detector, Embedder, string, error) {
	start := time.Now()
	m.log.Info("loading models",
		zap.String("detector", m.cfg.DetectorPath),
		zap.String("embedder", m.cfg.EmbedderPath))

	detector, embedder, device, err := m.newModels(m.cfg, m.log)
	if err != nil {
		m.log.Error("model initialization failed", zap.Error(err))
		return nil, nil, "", fmt.Errorf("loading models: %w", err)
	}

	// Warm-up inference forces any lazy compilation before the first
	// real request hits the models.
	size := m.cfg.DetectorInputSize
	dummy := image.NewRGBA(image.Rect(0, 0, size, size))
	if _, _, err := detector.Detect(ctx, dummy, 1.0); err != nil {
		_ = detector.Close()
		_ = embedder.Close()
		return nil, nil, "", fmt.Errorf("detector warm-up: %w", err)
	}

	m.log.Info("models initialized",
		zap.String("device", device),
		zap.Duration("took", time.Since(start)))
	return detector, embedder, device, nil
}

// models returns the loaded detector and embedder, or ErrNotInitialized.
// Callers run inference outside the manager lock.
func (m *Manager) models() (Detector, Embedder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return nil, nil, ErrNotInitialized
	}
	return m.detector, m.embedder, nil
}

// Detect delegates to the detector, discarding boxes below the threshold.
func (m *Manager) Detect(ctx context.Context, img image.Image, confThreshold float32) ([]Detection, time.Duration, error) {
	detector, _, err := m.models()
	if err != nil {
		return nil, 0, err
	}
	return detector.Detect(ctx, img, confThreshold)
}

// Embed delegates to the embedding generator.
func (m *Manager) Embed(ctx context.Context, face image.Image) ([]float32, time.Duration, error) {
	_, embedder, err := m.models()
	if err != nil {
		return nil, 0, err
	}
	return embedder.Embed(ctx, face)
}

// Describe returns a snapshot of model state. Read-only, side-effect-free.
func (m *Manager) Describe() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Ready:        m.initialized,
		Device:       m.device,
		EmbeddingDim: m.cfg.EmbeddingDim,
		DetectorPath: m.cfg.DetectorPath,
		EmbedderPath: m.cfg.EmbedderPath,
	}
}

// Shutdown releases model resources. Initialize may be called again
// afterwards. Returns an error if an initialization is still in flight.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.attempt != nil {
		return errors.New("cannot shut down while initialization is in flight")
	}
	if !m.initialized {
		return nil
	}

	var errs []error
	if err := m.detector.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing detector: %w", err))
	}
	if err := m.embedder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing embedder: %w", err))
	}
	m.detector = nil
	m.embedder = nil
	m.device = ""
	m.initialized = false
	m.log.Info("models shut down")
	return errors.Join(errs...)
}
