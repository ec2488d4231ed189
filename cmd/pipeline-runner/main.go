package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/elsflow/elsflow/internal/app"
	"github.com/elsflow/elsflow/internal/models"
	"github.com/elsflow/elsflow/internal/pipeline"
)

var (
	appInstance *app.App
	once        sync.Once
	initErr     error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("RunPipeline", runPipeline)
}

// main is required by the Go Functions Framework.
func main() {}

// runRequest is the HTTP payload. When RunID and Stage are set the call is
// a single-stage re-run of an existing pipeline run; otherwise a new run is
// started over DocumentRef.
type runRequest struct {
	DocumentRef string              `json:"document_ref"`
	Country     string              `json:"country"`
	State       string              `json:"state"`
	VersionYear int                 `json:"version_year"`
	DocMeta     models.DocumentMeta `json:"doc_meta"`

	RunID string `json:"run_id"`
	Stage string `json:"stage"`
}

func runPipeline(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		appInstance, initErr = app.New(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("Could not decode request body.", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	var (
		run *models.Run
		err error
	)
	if req.RunID != "" {
		run, err = appInstance.Orchestrator.RerunStage(r.Context(), req.RunID, req.Stage)
	} else {
		run, err = appInstance.Orchestrator.Execute(r.Context(), pipeline.RunRequest{
			DocumentRef: req.DocumentRef,
			Jurisdiction: models.Jurisdiction{
				Country: req.Country,
				State:   req.State,
				Year:    req.VersionYear,
			},
			DocMeta: req.DocMeta,
		})
	}
	if err != nil && run == nil {
		// The request never became a run; nothing to report beyond the error.
		slog.Error("Pipeline request rejected.", "error", err)
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	}

	// A run that failed mid-sequence is still reported with its recorded
	// stage results; the status field carries the outcome.
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(run); err != nil {
		slog.Error("Failed to write response.", "error", err)
		http.Error(w, "Internal Server Error: failed to encode response", http.StatusInternalServerError)
	}
}
