package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/elsflow/elsflow/internal/app"
	"github.com/elsflow/elsflow/internal/models"
	"github.com/elsflow/elsflow/internal/pipeline"
)

var (
	appInstance      *app.App
	executionsClient *executions.Client
	once             sync.Once
	initErr          error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("StartPipelineRun", startPipelineRun)
}

// main is required by the Go Functions Framework.
func main() {}

// gcsEvent is the payload of a GCS object-finalize event.
type gcsEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// startPipelineRun reacts to a document dropped into the upload bucket.
// Objects are expected at {CC-SS-YYYY}/incoming/{filename}; anything else
// (including the pipeline's own raw/ and intermediate/ writes) is ignored.
// With WORKFLOW_ID set the run is handed off to a Workflows execution that
// calls the pipeline-runner function; otherwise it runs in-process.
func startPipelineRun(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		appInstance, initErr = app.New(context.Background())
		if initErr != nil {
			return
		}
		if appInstance.Config.WorkflowID != "" {
			executionsClient, initErr = executions.NewClient(context.Background())
		}
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var evt gcsEvent
	if err := json.Unmarshal(e.Data(), &evt); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}
	logCtx := slog.With("gcsBucket", evt.Bucket, "gcsObject", evt.Name)

	jurisdiction, ok := parseUploadPath(evt.Name)
	if !ok {
		logCtx.Info("Object is not a pipeline upload. Skipping.")
		return nil
	}
	documentRef := fmt.Sprintf("gs://%s/%s", evt.Bucket, evt.Name)
	meta := defaultDocumentMeta(jurisdiction, documentRef)
	logCtx.Info("Starting pipeline run for uploaded document.", "jurisdiction", jurisdiction.Key())

	if executionsClient != nil {
		return triggerWorkflow(ctx, logCtx, documentRef, jurisdiction, meta)
	}

	_, err := appInstance.Orchestrator.Execute(ctx, pipeline.RunRequest{
		DocumentRef:  documentRef,
		Jurisdiction: jurisdiction,
		DocMeta:      meta,
	})
	return err
}

// defaultDocumentMeta fills the document metadata for event-triggered runs,
// which carry no operator manifest. Every field the canonical record
// requires gets a non-empty value so validation does not reject the whole
// run on missing document metadata.
func defaultDocumentMeta(j models.Jurisdiction, documentRef string) models.DocumentMeta {
	return models.DocumentMeta{
		Title:            fmt.Sprintf("%s Early Learning Standards", j.State),
		SourceURL:        documentRef,
		AgeBand:          "3-4",
		PublishingAgency: fmt.Sprintf("%s Department of Education", j.State),
	}
}

// parseUploadPath extracts the jurisdiction from an upload object name of
// the form {CC-SS-YYYY}/incoming/{filename}.
func parseUploadPath(name string) (models.Jurisdiction, bool) {
	parts := strings.Split(name, "/")
	if len(parts) != 3 || parts[1] != "incoming" || parts[2] == "" {
		return models.Jurisdiction{}, false
	}
	keyParts := strings.Split(parts[0], "-")
	if len(keyParts) != 3 {
		return models.Jurisdiction{}, false
	}
	year, err := strconv.Atoi(keyParts[2])
	if err != nil {
		return models.Jurisdiction{}, false
	}
	j := models.Jurisdiction{Country: keyParts[0], State: keyParts[1], Year: year}
	if err := j.Validate(); err != nil {
		return models.Jurisdiction{}, false
	}
	return j, true
}

func triggerWorkflow(ctx context.Context, logCtx *slog.Logger, documentRef string, j models.Jurisdiction, meta models.DocumentMeta) error {
	cfg := appInstance.Config
	payload := map[string]any{
		"document_ref": documentRef,
		"country":      j.Country,
		"state":        j.State,
		"version_year": j.Year,
		"doc_meta":     meta,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", cfg.ProjectID, cfg.WorkflowLocation, cfg.WorkflowID),
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	}
	if _, err := executionsClient.CreateExecution(ctx, req); err != nil {
		return fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	logCtx.Info("Hand-off to workflow complete.", "workflowId", cfg.WorkflowID)
	return nil
}
