//go:build cgo
// +build cgo

package model

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/facegate/facegate/internal/config"
	"github.com/facegate/facegate/internal/imaging"
)

// Tensor names follow the YOLO face detector and ArcFace-style embedder
// exports this engine is deployed with.
const (
	detectorInputName  = "images"
	detectorOutputName = "output0"
	embedderInputName  = "data"
	embedderOutputName = "fc1"

	// nmsIoUThreshold filters overlapping detections of the same face.
	nmsIoUThreshold = 0.45
)

var ortInitOnce sync.Once
var ortInitErr error

// initONNXRuntime initializes the shared ONNX runtime environment once
// per process. ONNXRUNTIME_SHARED_LIBRARY_PATH overrides the library
// location when it is not on the default search path.
func initONNXRuntime() error {
	ortInitOnce.Do(func() {
		if path := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); path != "" {
			ort.SetSharedLibraryPath(path)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// sessionOptions builds session options, preferring the CUDA execution
// provider when available and falling back to CPU.
func sessionOptions(log *zap.Logger) (*ort.SessionOptions, string, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, "", fmt.Errorf("creating session options: %w", err)
	}

	cudaOpts, err := ort.NewCUDAProviderOptions()
	if err == nil {
		if err := opts.AppendExecutionProviderCUDA(cudaOpts); err == nil {
			_ = cudaOpts.Destroy()
			return opts, "cuda", nil
		}
		_ = cudaOpts.Destroy()
	}
	log.Info("CUDA execution provider unavailable, using CPU")
	return opts, "cpu", nil
}

// newONNXModels loads the detector and embedder ONNX sessions. This is
// the default Manager factory.
func newONNXModels(cfg config.ModelConfig, log *zap.Logger) (Detector, Embedder, string, error) {
	if _, err := os.Stat(cfg.DetectorPath); err != nil {
		return nil, nil, "", fmt.Errorf("detector model artifact: %w", err)
	}
	if _, err := os.Stat(cfg.EmbedderPath); err != nil {
		return nil, nil, "", fmt.Errorf("embedder model artifact: %w", err)
	}
	if err := initONNXRuntime(); err != nil {
		return nil, nil, "", fmt.Errorf("initializing ONNX runtime: %w", err)
	}

	opts, device, err := sessionOptions(log)
	if err != nil {
		return nil, nil, "", err
	}
	defer opts.Destroy()

	detector, err := newONNXDetector(cfg.DetectorPath, cfg.DetectorInputSize, opts)
	if err != nil {
		return nil, nil, "", fmt.Errorf("loading detector: %w", err)
	}
	embedder, err := newONNXEmbedder(cfg.EmbedderPath, cfg.FaceSize, cfg.EmbeddingDim, opts)
	if err != nil {
		_ = detector.Close()
		return nil, nil, "", fmt.Errorf("loading embedder: %w", err)
	}
	return detector, embedder, device, nil
}

// onnxDetector runs a YOLO-style face detector. The session and its
// pre-allocated tensors are serialized by a mutex; input data is copied
// in and decoded boxes are read out per call.
type onnxDetector struct {
	session      *ort.AdvancedSession
	inputSize    int
	anchors      int
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	mu           sync.Mutex
}

// anchorCount returns the number of YOLO anchor positions for a square
// input: the sum of the 8, 16, and 32 stride grids.
func anchorCount(size int) int {
	return (size/8)*(size/8) + (size/16)*(size/16) + (size/32)*(size/32)
}

func newONNXDetector(modelPath string, inputSize int, opts *ort.SessionOptions) (*onnxDetector, error) {
	anchors := anchorCount(inputSize)

	inputTensor, err := ort.NewTensor(ort.NewShape(1, 3, int64(inputSize), int64(inputSize)), make([]float32, 3*inputSize*inputSize))
	if err != nil {
		return nil, fmt.Errorf("creating detector input tensor: %w", err)
	}
	outputTensor, err := ort.NewTensor(ort.NewShape(1, 5, int64(anchors)), make([]float32, 5*anchors))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("creating detector output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{detectorInputName},
		[]string{detectorOutputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("creating detector session: %w", err)
	}

	return &onnxDetector{
		session:      session,
		inputSize:    inputSize,
		anchors:      anchors,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (d *onnxDetector) Detect(ctx context.Context, img image.Image, confThreshold float32) ([]Detection, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	boxed, scale := imaging.Letterbox(img, d.inputSize)
	tensor := imaging.ToTensor(boxed)

	d.mu.Lock()
	start := time.Now()
	copy(d.inputTensor.GetData(), tensor)
	if err := d.session.Run(); err != nil {
		d.mu.Unlock()
		return nil, 0, fmt.Errorf("detector inference failed: %w", err)
	}
	output := make([]float32, 5*d.anchors)
	copy(output, d.outputTensor.GetData())
	took := time.Since(start)
	d.mu.Unlock()

	detections := d.decode(output, scale, img.Bounds().Dx(), img.Bounds().Dy(), confThreshold)
	return detections, took, nil
}

// decode converts the raw [5 x anchors] output (cx, cy, w, h, confidence
// planes) into confidence-filtered, NMS-deduplicated boxes in original
// image coordinates.
func (d *onnxDetector) decode(output []float32, scale float64, imgWidth, imgHeight int, confThreshold float32) []Detection {
	var candidates []imaging.ScoredBox
	n := d.anchors
	for i := 0; i < n; i++ {
		conf := output[4*n+i]
		if conf < confThreshold {
			continue
		}
		cx := float64(output[i])
		cy := float64(output[n+i])
		w := float64(output[2*n+i])
		h := float64(output[3*n+i])

		box := imaging.Box{
			X1: (cx - w/2) / scale,
			Y1: (cy - h/2) / scale,
			X2: (cx + w/2) / scale,
			Y2: (cy + h/2) / scale,
		}.Clip(imgWidth, imgHeight)
		if box.Empty() {
			continue
		}
		candidates = append(candidates, imaging.ScoredBox{Box: box, Confidence: conf})
	}

	kept := imaging.NonMaxSuppression(candidates, nmsIoUThreshold)
	detections := make([]Detection, len(kept))
	for i, sb := range kept {
		detections[i] = Detection{Box: sb.Box, Confidence: sb.Confidence}
	}
	return detections
}

func (d *onnxDetector) Close() error {
	var err error
	if d.session != nil {
		err = d.session.Destroy()
		d.session = nil
	}
	if d.inputTensor != nil {
		_ = d.inputTensor.Destroy()
		d.inputTensor = nil
	}
	if d.outputTensor != nil {
		_ = d.outputTensor.Destroy()
		d.outputTensor = nil
	}
	return err
}

// onnxEmbedder runs the face embedding model on fixed-size crops.
type onnxEmbedder struct {
	session      *ort.AdvancedSession
	faceSize     int
	dim          int
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	mu           sync.Mutex
}

func newONNXEmbedder(modelPath string, faceSize, dim int, opts *ort.SessionOptions) (*onnxEmbedder, error) {
	inputTensor, err := ort.NewTensor(ort.NewShape(1, 3, int64(faceSize), int64(faceSize)), make([]float32, 3*faceSize*faceSize))
	if err != nil {
		return nil, fmt.Errorf("creating embedder input tensor: %w", err)
	}
	outputTensor, err := ort.NewTensor(ort.NewShape(1, int64(dim)), make([]float32, dim))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("creating embedder output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{embedderInputName},
		[]string{embedderOutputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("creating embedder session: %w", err)
	}

	return &onnxEmbedder{
		session:      session,
		faceSize:     faceSize,
		dim:          dim,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (e *onnxEmbedder) Embed(ctx context.Context, face image.Image) ([]float32, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	resized := imaging.Resize(face, e.faceSize, e.faceSize)
	tensor := imaging.ToTensor(resized)

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	copy(e.inputTensor.GetData(), tensor)
	if err := e.session.Run(); err != nil {
		return nil, 0, fmt.Errorf("embedder inference failed: %w", err)
	}

	embedding := make([]float32, e.dim)
	copy(embedding, e.outputTensor.GetData()[:e.dim])
	return embedding, time.Since(start), nil
}

func (e *onnxEmbedder) Dimensions() int {
	return e.dim
}

func (e *onnxEmbedder) Close() error {
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if e.inputTensor != nil {
		_ = e.inputTensor.Destroy()
		e.inputTensor = nil
	}
	if e.outputTensor != nil {
		_ = e.outputTensor.Destroy()
		e.outputTensor = nil
	}
	return err
}
