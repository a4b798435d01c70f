//go:build !cgo
// +build !cgo

package model

import (
	"errors"

	"go.uber.org/zap"

	"github.com/facegate/facegate/internal/config"
)

// newONNXModels returns an error when built without CGO (see onnx.go for
// the real implementation).
func newONNXModels(_ config.ModelConfig, _ *zap.Logger) (Detector, Embedder, string, error) {
	return nil, nil, "", errors.New("ONNX models require CGO; build with CGO_ENABLED=1 and onnxruntime")
}
