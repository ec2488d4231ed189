// Package extract implements the extraction stage: the raw document is
// optimized and split into single pages with pdfcpu, the pages are uploaded
// to the processed bucket, and each page is transcribed into plain text
// blocks by the extraction model.
package extract

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"cloud.google.com/go/vertexai/genai"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/sync/errgroup"

	"github.com/elsflow/elsflow/internal/artifact"
	"github.com/elsflow/elsflow/internal/llm"
	"github.com/elsflow/elsflow/internal/models"
	"github.com/elsflow/elsflow/internal/pipeline"
)

const maxConcurrentPages = 10

// refusalPhrases flag model responses that are refusals rather than
// transcriptions. A refusal fails the page, and with it the stage.
var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

// Stage transcribes the ingested document into ordered text blocks.
type Stage struct {
	Storage   *storage.Client
	LLM       *llm.VertexClient
	RawBucket string
}

func (s *Stage) Name() string { return pipeline.StageExtraction }

func (s *Stage) Run(ctx context.Context, sc *pipeline.StageContext) (pipeline.StageOutput, error) {
	var ingestion models.IngestionArtifact
	if err := sc.Artifacts.Load(ctx, sc.InputRef, &ingestion); err != nil {
		return pipeline.StageOutput{}, fmt.Errorf("failed to load ingestion artifact: %w", err)
	}
	logCtx := slog.With("runId", sc.RunID, "rawObject", ingestion.RawObject)

	var (
		blocks     []models.TextBlock
		totalPages int
		err        error
	)
	if ingestion.ContentType == "application/pdf" {
		blocks, totalPages, err = s.extractPDF(ctx, logCtx, sc, ingestion)
	} else {
		blocks, totalPages, err = s.extractSingleDocument(ctx, sc, ingestion)
	}
	if err != nil {
		return pipeline.StageOutput{}, err
	}

	logCtx.Info("Extraction complete.", "totalPages", totalPages, "blocks", len(blocks))
	out := models.ExtractionArtifact{Blocks: blocks, TotalPages: totalPages}
	key := artifact.IntermediateKey(sc.Jurisdiction.Key(), pipeline.StageExtraction, sc.RunID)
	if err := sc.Artifacts.Save(ctx, key, out); err != nil {
		return pipeline.StageOutput{}, fmt.Errorf("failed to save extraction artifact: %w", err)
	}
	return pipeline.StageOutput{OutputRef: key, Counts: sc.Counts}, nil
}

// extractPDF splits the PDF into pages, uploads them, and transcribes each
// page concurrently. Page order is restored after the concurrent phase.
func (s *Stage) extractPDF(ctx context.Context, logCtx *slog.Logger, sc *pipeline.StageContext, ingestion models.IngestionArtifact) ([]models.TextBlock, int, error) {
	tempDir, err := os.MkdirTemp("", "elsflow-extract-*")
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	sourcePath := filepath.Join(tempDir, "source.pdf")
	if err := s.streamGCSObject(ctx, s.RawBucket, ingestion.RawObject, sourcePath); err != nil {
		return nil, 0, err
	}

	optimizedPath := filepath.Join(tempDir, "optimized.pdf")
	pageCount, err := optimizeAndSplit(sourcePath, optimizedPath)
	if err != nil {
		return nil, 0, err
	}
	logCtx.Info("PDF optimized and split locally.", "pageCount", pageCount)

	pagePrefix := fmt.Sprintf("%s/intermediate/%s-pages/%s", sc.Jurisdiction.Key(), pipeline.StageExtraction, sc.RunID)
	splitFileBase := strings.TrimSuffix(optimizedPath, filepath.Ext(optimizedPath))

	var mu sync.Mutex
	blocks := make([]models.TextBlock, 0, pageCount)

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(maxConcurrentPages)
	for i := 1; i <= pageCount; i++ {
		pageNumber := i
		localPagePath := fmt.Sprintf("%s_%d.pdf", splitFileBase, pageNumber)
		pageObject := fmt.Sprintf("%s/%05d.pdf", pagePrefix, pageNumber)
		eg.Go(func() error {
			if err := s.uploadFile(gctx, localPagePath, pageObject); err != nil {
				return fmt.Errorf("page %d: %w", pageNumber, err)
			}
			pageURI := fmt.Sprintf("gs://%s/%s", s.RawBucket, pageObject)
			text, err := s.transcribePage(gctx, pageURI, "application/pdf", pageNumber)
			if err != nil {
				return fmt.Errorf("page %d: %w", pageNumber, err)
			}
			if text == "" {
				slog.Warn("No text extracted from page. Treating as empty page.", "runId", sc.RunID, "pageNumber", pageNumber)
				return nil
			}
			mu.Lock()
			blocks = append(blocks, models.TextBlock{
				Text:       text,
				PageNumber: pageNumber,
				BlockType:  "page",
				Confidence: 1.0,
			})
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, 0, fmt.Errorf("page transcription failed: %w", err)
	}

	sort.Slice(blocks, func(i, j int) bool { return blocks[i].PageNumber < blocks[j].PageNumber })
	return blocks, pageCount, nil
}

// extractSingleDocument transcribes a non-PDF document (HTML) in one model
// call, as a single page-one block.
func (s *Stage) extractSingleDocument(ctx context.Context, sc *pipeline.StageContext, ingestion models.IngestionArtifact) ([]models.TextBlock, int, error) {
	docURI := fmt.Sprintf("gs://%s/%s", s.RawBucket, ingestion.RawObject)
	text, err := s.transcribePage(ctx, docURI, ingestion.ContentType, 1)
	if err != nil {
		return nil, 0, err
	}
	if text == "" {
		return nil, 0, fmt.Errorf("no text extracted from document %s", ingestion.RawObject)
	}
	return []models.TextBlock{{Text: text, PageNumber: 1, BlockType: "page", Confidence: 1.0}}, 1, nil
}

// transcribePage calls the extraction model on one page and returns the
// cleaned text. A refusal response is an error, not an empty page.
func (s *Stage) transcribePage(ctx context.Context, fileURI, mimeType string, pageNumber int) (string, error) {
	prompt := genai.Text(llm.ExtractionUserPrompt)
	filePart := genai.FileData{MIMEType: mimeType, FileURI: fileURI}

	resp, err := s.LLM.ExtractionModel.GenerateContent(ctx, filePart, prompt)
	if err != nil {
		return "", fmt.Errorf("failed to generate content from gemini: %w", err)
	}

	text := cleanResponseText(llm.ResponseText(resp))
	lower := strings.ToLower(text)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return "", fmt.Errorf("gemini response indicates refusal for page %d", pageNumber)
		}
	}
	return text, nil
}

// cleanResponseText strips whitespace and stray code fences from a model
// response.
func cleanResponseText(text string) string {
	out := strings.TrimSpace(text)
	out = strings.TrimPrefix(out, "```markdown")
	out = strings.TrimPrefix(out, "```")
	out = strings.TrimSuffix(out, "```")
	return strings.TrimSpace(out)
}

func optimizeAndSplit(sourcePath, optimizedPath string) (int, error) {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	if err := api.OptimizeFile(sourcePath, optimizedPath, cfg); err != nil {
		return 0, fmt.Errorf("failed to validate/optimize PDF: %w", err)
	}
	pageCount, err := api.PageCountFile(optimizedPath)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	if err := api.SplitFile(optimizedPath, filepath.Dir(optimizedPath), 1, nil); err != nil {
		return 0, fmt.Errorf("failed to split PDF: %w", err)
	}
	return pageCount, nil
}

func (s *Stage) streamGCSObject(ctx context.Context, bucket, object, destPath string) error {
	gcsReader, err := s.Storage.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, err)
	}
	defer gcsReader.Close()
	localFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file at %s: %w", destPath, err)
	}
	defer localFile.Close()
	if _, err := io.Copy(localFile, gcsReader); err != nil {
		return fmt.Errorf("failed to copy GCS object to local file: %w", err)
	}
	return nil
}

func (s *Stage) uploadFile(ctx context.Context, localPath, destObject string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("could not open local file %s: %w", localPath, err)
	}
	defer src.Close()
	w := s.Storage.Bucket(s.RawBucket).Object(destObject).NewWriter(ctx)
	w.ContentType = "application/pdf"
	if _, err := io.Copy(w, src); err != nil {
		_ = w.Close()
		return fmt.Errorf("io.Copy to GCS failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer (finalize upload): %w", err)
	}
	return nil
}
