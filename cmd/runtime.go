package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/facegate/facegate/internal/config"
	"github.com/facegate/facegate/internal/identify"
	"github.com/facegate/facegate/internal/model"
	"github.com/facegate/facegate/internal/vecstore"
)

// runtime bundles the components every command needs: validated config,
// logger, loaded models, vector store and the identification pipeline.
type runtime struct {
	cfg      *config.Config
	log      *zap.Logger
	models   *model.Manager
	store    *vecstore.Store
	pipeline *identify.Pipeline
}

// newRuntime loads configuration, initializes the ONNX models and wires
// the pipeline. Callers must defer rt.close().
func newRuntime(ctx context.Context) (*runtime, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := newLogger()
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	models := model.NewManager(cfg.Model, log)
	if err := models.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initializing models: %w", err)
	}

	store := vecstore.New(cfg.Store.DataDir, cfg.Model.EmbeddingDim, log)
	pipeline := identify.New(cfg, models, store, log)

	return &runtime{
		cfg:      cfg,
		log:      log,
		models:   models,
		store:    store,
		pipeline: pipeline,
	}, nil
}

func (rt *runtime) close() {
	if err := rt.models.Shutdown(); err != nil {
		rt.log.Warn("model shutdown failed", zap.Error(err))
	}
	_ = rt.log.Sync()
}
