package registry

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/elsflow/elsflow/internal/models"
)

// FirestoreRegistry keeps run records and the uniqueness index in
// Firestore. Uniqueness relies on Create rejecting an existing document:
// the document ID is the (jurisdiction, standard_id) pair, so two runs
// accepting the same standard race on the same document and exactly one
// wins.
type FirestoreRegistry struct {
	client           *firestore.Client
	runCollection    string
	recordCollection string
}

// NewFirestoreClient creates a Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return client, nil
}

func NewFirestoreRegistry(client *firestore.Client, runCollection, recordCollection string) *FirestoreRegistry {
	return &FirestoreRegistry{
		client:           client,
		runCollection:    runCollection,
		recordCollection: recordCollection,
	}
}

func (r *FirestoreRegistry) Register(ctx context.Context, jurisdictionKey, standardID, runID string) error {
	docID := jurisdictionKey + ":" + standardID
	doc := r.client.Collection(r.recordCollection).Doc(docID)
	_, err := doc.Create(ctx, map[string]any{
		"jurisdictionKey": jurisdictionKey,
		"standardId":      standardID,
		"runId":           runID,
		"registeredAt":    time.Now().UTC(),
	})
	if err == nil {
		return nil
	}
	if status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("failed to register standard %s: %w", standardID, err)
	}

	snap, err := doc.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to load existing registration %s: %w", docID, err)
	}
	if owner, _ := snap.DataAt("runId"); owner == runID {
		// Held by this run already: a validation re-run.
		return nil
	}
	return fmt.Errorf("%s in %s: %w", standardID, jurisdictionKey, ErrDuplicate)
}

func (r *FirestoreRegistry) SaveRun(ctx context.Context, run *models.Run) error {
	if _, err := r.client.Collection(r.runCollection).Doc(run.RunID).Set(ctx, run); err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.RunID, err)
	}
	return nil
}

func (r *FirestoreRegistry) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	snap, err := r.client.Collection(r.runCollection).Doc(runID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%s: %w", runID, ErrRunNotFound)
		}
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	var run models.Run
	if err := snap.DataTo(&run); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", runID, err)
	}
	return &run, nil
}
