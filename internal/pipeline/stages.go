package pipeline

import (
	"context"

	"github.com/elsflow/elsflow/internal/artifact"
	"github.com/elsflow/elsflow/internal/models"
)

// Stage names, in execution order. Names are part of the run record
// contract and of the intermediate artifact key layout.
const (
	StageIngestion      = "ingestion"
	StageExtraction     = "extraction"
	StageDetection      = "detection"
	StageParsing        = "parsing"
	StageValidation     = "validation"
	StageEmbedding      = "embedding"
	StageRecommendation = "recommendation"
	StagePersistence    = "persistence"
)

// Sequence is the fixed stage order of a pipeline run.
var Sequence = []string{
	StageIngestion,
	StageExtraction,
	StageDetection,
	StageParsing,
	StageValidation,
	StageEmbedding,
	StageRecommendation,
	StagePersistence,
}

// StageContext is everything a stage may read. Stages communicate only
// through artifacts: InputRef is the preceding stage's recorded output
// artifact (empty for the first stage, which starts from DocumentRef).
type StageContext struct {
	RunID        string
	Jurisdiction models.Jurisdiction
	DocumentRef  string
	InputRef     string
	Counts       models.Counts
	Artifacts    artifact.Store
	DocMeta      models.DocumentMeta
}

// StageOutput is a successful stage's result: the artifact it produced and
// the run counts as it leaves them.
type StageOutput struct {
	OutputRef string
	Counts    models.Counts
}

// Stage is one unit of pipeline work. Implementations are stateless; a
// returned error is stage-fatal and halts the run. Data-quality issues are
// recorded inside the stage's output artifact instead.
type Stage interface {
	Name() string
	Run(ctx context.Context, sc *StageContext) (StageOutput, error)
}
