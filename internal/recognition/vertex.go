package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

const (
	defaultVertexModel = "gemini-1.5-pro"

	recognitionSystemPrompt = "You are an optical character recognition engine for scanned paper documents. You report every word you can read together with its pixel position."
	recognitionUserPrompt   = `Read all text in the attached scan.

Return a single JSON object with this shape and nothing else:
{
  "imageWidth": <pixel width of the image>,
  "imageHeight": <pixel height of the image>,
  "lines": [
    {
      "bbox": {"x1": 0, "y1": 0, "x2": 0, "y2": 0},
      "words": [
        {"text": "word", "confidence": 0.0, "bbox": {"x1": 0, "y1": 0, "x2": 0, "y2": 0}}
      ]
    }
  ]
}

Lines follow reading order from top to bottom. Confidence is a number between 0 and 100. Omit lines without readable words.`
)

var (
	errMissingProject = errors.New("vertex project and region are required")
	errMissingReader  = errors.New("content reader is required")
	errEmptyResponse  = errors.New("model returned no text")
)

// generator is the part of *genai.GenerativeModel the engine depends on.
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// VertexConfig configures the Gemini backed engine.
type VertexConfig struct {
	ProjectID string
	Region    string
	Model     string
	Content   ContentReader
	Logger    *zap.Logger
}

// VertexEngine recognizes text with a Gemini model on Vertex AI.
type VertexEngine struct {
	model   generator
	client  *genai.Client
	content ContentReader
	logger  *zap.Logger
}

// NewVertexEngine connects to Vertex AI and configures the model for JSON output.
func NewVertexEngine(ctx context.Context, cfg VertexConfig) (*VertexEngine, error) {
	if cfg.ProjectID == "" || cfg.Region == "" {
		return nil, errMissingProject
	}
	if cfg.Content == nil {
		return nil, errMissingReader
	}
	client, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	modelName := strings.TrimSpace(cfg.Model)
	if modelName == "" {
		modelName = defaultVertexModel
	}
	model := client.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(recognitionSystemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}

	engine := newVertexEngine(model, cfg.Content, cfg.Logger)
	engine.client = client
	return engine, nil
}

func newVertexEngine(model generator, reader ContentReader, logger *zap.Logger) *VertexEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VertexEngine{model: model, content: reader, logger: logger}
}

// Recognize reads the referenced scan and asks the model for its text.
func (e *VertexEngine) Recognize(ctx context.Context, contentRef string) (Result, error) {
	data, err := e.content.Read(ctx, contentRef)
	if err != nil {
		return Result{}, fmt.Errorf("read content %s: %w", contentRef, err)
	}
	mediaType := mimetype.Detect(data)
	if !strings.HasPrefix(mediaType.String(), "image/") {
		return Result{}, fmt.Errorf("content %s is %s, not an image", contentRef, mediaType.String())
	}

	response, err := e.model.GenerateContent(ctx,
		genai.Blob{MIMEType: mediaType.String(), Data: data},
		genai.Text(recognitionUserPrompt),
	)
	if err != nil {
		return Result{}, fmt.Errorf("generate content: %w", err)
	}
	result, err := extractResult(response)
	if err != nil {
		return Result{}, err
	}
	if result.ImageWidth == 0 || result.ImageHeight == 0 {
		if config, _, decodeErr := image.DecodeConfig(bytes.NewReader(data)); decodeErr == nil {
			result.ImageWidth = config.Width
			result.ImageHeight = config.Height
		}
	}
	e.logger.Debug("recognition completed",
		zap.String("content_ref", contentRef),
		zap.Int("lines", len(result.Lines)),
	)
	return result, nil
}

// Close releases the underlying client.
func (e *VertexEngine) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

func extractResult(response *genai.GenerateContentResponse) (Result, error) {
	if response == nil || len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return Result{}, errEmptyResponse
	}
	var builder strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			builder.WriteString(string(text))
		}
	}
	payload := strings.TrimSpace(builder.String())
	// Some model versions still fence JSON output.
	payload = strings.TrimPrefix(payload, "```json")
	payload = strings.TrimPrefix(payload, "```")
	payload = strings.TrimSuffix(payload, "```")
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return Result{}, errEmptyResponse
	}

	var result Result
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return Result{}, fmt.Errorf("decode recognition result: %w", err)
	}
	return result.compact(), nil
}
