package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Model       ModelConfig
	Store       StoreConfig
	Recognition RecognitionConfig
	Web         WebConfig
}

type ModelConfig struct {
	DetectorPath      string // Path to the ONNX face detector model
	EmbedderPath      string // Path to the ONNX face embedding model
	DetectorInputSize int    // Square detector input in pixels (default 640)
	FaceSize          int    // Square embedder input in pixels (default 112)
	EmbeddingDim      int    // Embedding vector dimension (default 128)
}

type StoreConfig struct {
	DataDir    string // Root directory for per-tenant index/label files
	DatasetDir string // Root directory for per-tenant reference image crops
}

type RecognitionConfig struct {
	ConfidenceThreshold    float32 // Minimum detector confidence (default 0.7)
	VoteThreshold          float64 // Minimum vote ratio for an "ok" result (default 0.75)
	TopK                   int     // Neighbors considered by the voting classifier (default 10)
	DuplicateHashThreshold int     // dHash Hamming distance for duplicate reference crops (default 8)
}

type WebConfig struct {
	Host string
	Port int
}

// defaults mirrors the structure of the embedded defaults.yaml file.
type defaults struct {
	Recognition struct {
		ConfidenceThreshold    float32 `yaml:"confidence_threshold"`
		VoteThreshold          float64 `yaml:"vote_threshold"`
		TopK                   int     `yaml:"top_k"`
		DuplicateHashThreshold int     `yaml:"duplicate_hash_threshold"`
	} `yaml:"recognition"`
	Model struct {
		DetectorInputSize int `yaml:"detector_input_size"`
		FaceSize          int `yaml:"face_size"`
		EmbeddingDim      int `yaml:"embedding_dim"`
	} `yaml:"model"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a positive float.
// Returns the default value if the env var is unset, empty, or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

func Load() *Config {
	var def defaults
	if err := yaml.Unmarshal(defaultsYAML, &def); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	return &Config{
		Model: ModelConfig{
			DetectorPath:      os.Getenv("DETECTOR_MODEL_PATH"),
			EmbedderPath:      os.Getenv("EMBEDDER_MODEL_PATH"),
			DetectorInputSize: envInt("DETECTOR_INPUT_SIZE", def.Model.DetectorInputSize),
			FaceSize:          envInt("FACE_SIZE", def.Model.FaceSize),
			EmbeddingDim:      envInt("EMBEDDING_DIM", def.Model.EmbeddingDim),
		},
		Store: StoreConfig{
			DataDir:    os.Getenv("DATA_DIR"),
			DatasetDir: os.Getenv("DATASET_DIR"),
		},
		Recognition: RecognitionConfig{
			ConfidenceThreshold:    float32(envFloat("CONFIDENCE_THRESHOLD", float64(def.Recognition.ConfidenceThreshold))),
			VoteThreshold:          envFloat("VOTE_THRESHOLD", def.Recognition.VoteThreshold),
			TopK:                   envInt("TOP_K", def.Recognition.TopK),
			DuplicateHashThreshold: envInt("DUPLICATE_HASH_THRESHOLD", def.Recognition.DuplicateHashThreshold),
		},
		Web: WebConfig{
			Host: envString("WEB_HOST", "0.0.0.0"),
			Port: envInt("WEB_PORT", 8080),
		},
	}
}

// envString reads an environment variable with a fallback default.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// Validate checks settings that must be present before the engine can accept
// traffic. Called by serve/reindex before any model or index is touched.
func (c *Config) Validate() error {
	var errs []error
	if c.Model.DetectorPath == "" {
		errs = append(errs, errors.New("DETECTOR_MODEL_PATH is required"))
	}
	if c.Model.EmbedderPath == "" {
		errs = append(errs, errors.New("EMBEDDER_MODEL_PATH is required"))
	}
	if c.Model.EmbeddingDim <= 0 {
		errs = append(errs, errors.New("EMBEDDING_DIM must be a positive integer"))
	}
	if c.Store.DataDir == "" {
		errs = append(errs, errors.New("DATA_DIR is required"))
	}
	if c.Store.DatasetDir == "" {
		errs = append(errs, errors.New("DATASET_DIR is required"))
	}
	if c.Recognition.VoteThreshold <= 0 || c.Recognition.VoteThreshold > 1 {
		errs = append(errs, fmt.Errorf("VOTE_THRESHOLD must be in (0, 1], got %v", c.Recognition.VoteThreshold))
	}
	if c.Recognition.TopK <= 0 {
		errs = append(errs, errors.New("TOP_K must be a positive integer"))
	}
	return errors.Join(errs...)
}
