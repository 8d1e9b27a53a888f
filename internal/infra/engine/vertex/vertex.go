// Package vertex transcribes images with a Gemini model on Vertex AI.
package vertex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/scribe/internal/infra/engine"
)

const (
	DefaultRegion = "us-central1"
	DefaultModel  = "gemini-1.5-pro"

	// maxRetryWait caps the server supplied retry delay honoured by Recover.
	maxRetryWait = time.Minute
)

// Config holds Vertex AI settings.
type Config struct {
	Project string `yaml:"project"`
	Region  string `yaml:"region"`
	Model   string `yaml:"model"`
}

// generator is the subset of *genai.GenerativeModel the engine calls.
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Engine sends one GenerateContent request per document.
type Engine struct {
	cfg Config
	log *slog.Logger

	mu        sync.Mutex
	client    *genai.Client
	model     generator
	retryWait time.Duration
}

var _ engine.Engine = (*Engine)(nil)

// New creates an engine. Start opens the client.
func New(cfg Config) *Engine {
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Engine{cfg: cfg, log: slog.Default().With("engine", "vertex")}
}

func (e *Engine) Name() string { return "vertex" }

func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model != nil {
		return nil
	}
	if e.cfg.Project == "" {
		return fmt.Errorf("vertex project is required: %w", engine.ErrInvalidInput)
	}

	client, err := genai.NewClient(ctx, e.cfg.Project, e.cfg.Region)
	if err != nil {
		return fmt.Errorf("genai.NewClient: %w", mapError(err))
	}
	model := client.GenerativeModel(e.cfg.Model)
	model.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](0.0),
	}

	e.client, e.model = client, model
	e.log.Info("Vertex client ready", "project", e.cfg.Project, "region", e.cfg.Region, "model", e.cfg.Model)
	return nil
}

func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if e.client != nil {
		err = e.client.Close()
	}
	e.client, e.model = nil, nil
	return err
}

// OCR sends the image inline with the prompt and joins the text parts of the first candidate.
func (e *Engine) OCR(ctx context.Context, path, prompt string) (*engine.Result, error) {
	e.mu.Lock()
	model := e.model
	// A delay left by a failure whose attempt ran out of recoveries is stale.
	e.retryWait = 0
	e.mu.Unlock()
	if model == nil {
		return nil, engine.ErrNotStarted
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	mimeType := mimeOf(path)
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("%s: unsupported type %q: %w", filepath.Base(path), mimeType, engine.ErrInvalidInput)
	}

	started := time.Now()
	resp, err := model.GenerateContent(ctx, genai.Blob{MIMEType: mimeType, Data: data}, genai.Text(prompt))
	if err != nil {
		e.noteRetry(err)
		return nil, fmt.Errorf("generate content: %w", mapError(err))
	}

	text, finish := extractText(resp)
	if text == "" {
		if blocked(resp, finish) {
			return nil, fmt.Errorf("response blocked (finish reason %s): %w", finish, engine.ErrInvalidInput)
		}
		return nil, fmt.Errorf("empty response (finish reason %s): %w", finish, engine.ErrUnavailable)
	}

	out := map[string]any{
		"text":          text,
		"model":         e.cfg.Model,
		"finish_reason": finish.String(),
		"duration_ms":   time.Since(started).Milliseconds(),
	}
	if u := resp.UsageMetadata; u != nil {
		out["prompt_tokens"] = u.PromptTokenCount
		out["output_tokens"] = u.CandidatesTokenCount
	}
	return &engine.Result{Text: text, Data: out}, nil
}

// Recover waits out the retry delay the server asked for on the last failure.
func (e *Engine) Recover(ctx context.Context) error {
	e.mu.Lock()
	wait := e.retryWait
	e.retryWait = 0
	e.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	e.log.Info("Waiting before retry", "delay", wait)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

func (e *Engine) noteRetry(err error) {
	d := retryDelay(err)
	if d <= 0 {
		return
	}
	e.mu.Lock()
	e.retryWait = min(d, maxRetryWait)
	e.mu.Unlock()
}

// Some image types are missing from minimal mime tables.
var imageTypes = map[string]string{
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".bmp":  "image/bmp",
}

func mimeOf(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := imageTypes[ext]; ok {
		return t
	}
	return mime.TypeByExtension(ext)
}

func extractText(resp *genai.GenerateContentResponse) (string, genai.FinishReason) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", genai.FinishReasonUnspecified
	}
	c := resp.Candidates[0]
	if c.Content == nil {
		return "", c.FinishReason
	}
	var b strings.Builder
	for _, part := range c.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String()), c.FinishReason
}

// blocked reports whether the model refused the request. Resending the same
// image gets the same answer.
func blocked(resp *genai.GenerateContentResponse, finish genai.FinishReason) bool {
	if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		return true
	}
	switch finish {
	case genai.FinishReasonSafety, genai.FinishReasonRecitation, genai.FinishReasonBlocklist:
		return true
	}
	return false
}

// mapError attaches an engine sentinel based on the gRPC status code.
func mapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %w", engine.ErrTimeout, err)
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
		return fmt.Errorf("%w: %w", engine.ErrUnavailable, err)
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %w", engine.ErrLoginRequired, err)
	case codes.InvalidArgument, codes.FailedPrecondition:
		return fmt.Errorf("%w: %w", engine.ErrInvalidInput, err)
	default:
		return err
	}
}

// retryDelay returns the RetryInfo delay carried by a gRPC status, or zero.
func retryDelay(err error) time.Duration {
	st, ok := status.FromError(err)
	if !ok {
		return 0
	}
	for _, d := range st.Details() {
		if ri, ok := d.(*errdetails.RetryInfo); ok && ri.GetRetryDelay() != nil {
			return ri.GetRetryDelay().AsDuration()
		}
	}
	return 0
}
