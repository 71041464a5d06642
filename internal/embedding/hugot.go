package embedding

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"manual-rag/internal/logging"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
	"go.uber.org/zap"
)

// HugotEmbedder runs a sentence-transformer model locally on the CPU.
type HugotEmbedder struct {
	model    string
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline

	// the pipeline is not documented as goroutine safe
	mu sync.Mutex
}

// NewHugotEmbedder prepares modelName under modelDir (downloading it on first
// use) and starts a pure-Go inference session.
func NewHugotEmbedder(modelName, modelDir string, logger *zap.Logger) (*HugotEmbedder, error) {
	log := logging.OrNop(logger)

	modelPath, err := prepareModel(modelName, modelDir, log)
	if err != nil {
		return nil, err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	config := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "manual-embedder",
	}
	pipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create embedding pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create embedding pipeline: %w", err)
	}

	log.Info("local embedding model ready", zap.String("model", modelName), zap.String("path", modelPath))
	return &HugotEmbedder{model: modelName, session: session, pipeline: pipeline}, nil
}

// prepareModel downloads the model if it doesn't exist and returns the model path
func prepareModel(modelName, modelDir string, log *zap.Logger) (string, error) {
	modelPath := filepath.Join(modelDir, strings.ReplaceAll(modelName, "/", "_"))
	if _, err := os.Stat(modelPath); err == nil {
		return modelPath, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to stat model directory: %w", err)
	}

	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create model directory: %w", err)
	}
	log.Info("downloading embedding model", zap.String("model", modelName), zap.String("dir", modelDir))

	downloadOptions := hugot.NewDownloadOptions()
	downloadOptions.OnnxFilePath = "onnx/model.onnx"
	downloadedPath, err := hugot.DownloadModel(modelName, modelDir, downloadOptions)
	if err != nil {
		return "", fmt.Errorf("failed to download model: %w", err)
	}
	return downloadedPath, nil
}

// Name returns the provider-qualified model name
func (h *HugotEmbedder) Name() string {
	return "hugot:" + h.model
}

// EmbedDocuments embeds all texts in one pipeline run
func (h *HugotEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	result, err := h.pipeline.RunPipeline(texts)
	h.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}

	return checkBatch(result.Embeddings, len(texts))
}

// EmbedQuery embeds a single query
func (h *HugotEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := h.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Close releases the inference session
func (h *HugotEmbedder) Close() error {
	return h.session.Destroy()
}
