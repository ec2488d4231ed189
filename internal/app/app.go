// Package app wires the pipeline together from configuration: clients,
// stores, registries, and the full stage sequence. Both the CLI and the
// serverless entrypoints build their orchestrator through it.
package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"

	"github.com/elsflow/elsflow/internal/artifact"
	"github.com/elsflow/elsflow/internal/config"
	"github.com/elsflow/elsflow/internal/detect"
	"github.com/elsflow/elsflow/internal/enrich"
	"github.com/elsflow/elsflow/internal/extract"
	"github.com/elsflow/elsflow/internal/ingest"
	"github.com/elsflow/elsflow/internal/llm"
	"github.com/elsflow/elsflow/internal/pipeline"
	"github.com/elsflow/elsflow/internal/registry"
)

// App owns the long-lived clients behind a configured orchestrator.
type App struct {
	Config       *config.Config
	Orchestrator *pipeline.Orchestrator

	storageClient   *storage.Client
	firestoreClient *firestore.Client
	vertexClient    *llm.VertexClient
}

// New builds the fully wired pipeline from the environment configuration.
func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.RawBucket == "" {
		return nil, fmt.Errorf("ELSFLOW_RAW_BUCKET must be set")
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	firestoreClient, err := registry.NewFirestoreClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	vertexClient, err := llm.NewVertexClient(ctx, cfg.ProjectID, cfg.VertexAIRegion)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}

	store := artifact.NewGCSStore(storageClient, cfg.ProcessedBucket)
	reg := registry.NewFirestoreRegistry(firestoreClient, cfg.RunCollection, cfg.RecordCollection)

	orch, err := pipeline.New(store, reg,
		&ingest.Stage{Storage: storageClient, RawBucket: cfg.RawBucket},
		&extract.Stage{Storage: storageClient, LLM: vertexClient, RawBucket: cfg.RawBucket},
		&detect.Stage{LLM: vertexClient, ConfidenceThreshold: cfg.ConfidenceThreshold},
		pipeline.ParsingStage{},
		pipeline.ValidationStage{Uniqueness: reg},
		&enrich.EmbeddingStage{LLM: vertexClient},
		&enrich.RecommendationStage{LLM: vertexClient},
		&enrich.PersistenceStage{
			Client:                    firestoreClient,
			StandardsCollection:       cfg.RecordCollection,
			EmbeddingsCollection:      cfg.EmbeddingCollection,
			RecommendationsCollection: cfg.ActivityCollection,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble pipeline: %w", err)
	}

	return &App{
		Config:          cfg,
		Orchestrator:    orch,
		storageClient:   storageClient,
		firestoreClient: firestoreClient,
		vertexClient:    vertexClient,
	}, nil
}

// Close releases all clients. Safe to call once, after all runs are done.
func (a *App) Close() {
	if a.vertexClient != nil {
		_ = a.vertexClient.Close()
	}
	if a.firestoreClient != nil {
		_ = a.firestoreClient.Close()
	}
	if a.storageClient != nil {
		_ = a.storageClient.Close()
	}
}
