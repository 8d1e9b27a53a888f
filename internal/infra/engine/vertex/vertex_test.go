package vertex

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/vietddude/scribe/internal/infra/engine"
)

type stubModel struct {
	resp  *genai.GenerateContentResponse
	err   error
	parts []genai.Part
}

func (m *stubModel) GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	m.parts = parts
	return m.resp, m.err
}

func textResponse(parts ...genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			FinishReason: genai.FinishReasonStop,
			Content:      &genai.Content{Parts: parts},
		}},
	}
}

func writeImage(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("\x89PNG"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOCR(t *testing.T) {
	m := &stubModel{resp: textResponse(genai.Text("  line one\n"), genai.Text("line two  "))}
	e := New(Config{Project: "p"})
	e.model = m

	res, err := e.OCR(context.Background(), writeImage(t, "page.png"), "transcribe")
	if err != nil {
		t.Fatalf("OCR failed: %v", err)
	}
	if res.Text != "line one\nline two" {
		t.Errorf("unexpected text %q", res.Text)
	}
	if res.Data["model"] != DefaultModel {
		t.Errorf("expected default model in data, got %v", res.Data["model"])
	}
	if len(m.parts) != 2 {
		t.Fatalf("expected image and prompt parts, got %d", len(m.parts))
	}
	blob, ok := m.parts[0].(genai.Blob)
	if !ok || blob.MIMEType != "image/png" {
		t.Errorf("expected png blob first, got %#v", m.parts[0])
	}
}

func TestOCR_Errors(t *testing.T) {
	ctx := context.Background()

	e := New(Config{Project: "p"})
	if _, err := e.OCR(ctx, "x.png", "p"); !errors.Is(err, engine.ErrNotStarted) {
		t.Errorf("expected ErrNotStarted, got %v", err)
	}

	e.model = &stubModel{resp: textResponse()}
	if _, err := e.OCR(ctx, filepath.Join(t.TempDir(), "missing.png"), "p"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
	if _, err := e.OCR(ctx, writeImage(t, "notes.txt"), "p"); !errors.Is(err, engine.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for non-image, got %v", err)
	}
	if _, err := e.OCR(ctx, writeImage(t, "a.png"), "p"); !errors.Is(err, engine.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable for empty response, got %v", err)
	}
}

func TestOCR_BlockedResponse(t *testing.T) {
	ctx := context.Background()
	e := New(Config{Project: "p"})

	for _, reason := range []genai.FinishReason{
		genai.FinishReasonSafety,
		genai.FinishReasonRecitation,
		genai.FinishReasonBlocklist,
	} {
		t.Run(reason.String(), func(t *testing.T) {
			resp := textResponse()
			resp.Candidates[0].FinishReason = reason
			e.model = &stubModel{resp: resp}
			_, err := e.OCR(ctx, writeImage(t, "a.png"), "p")
			if !errors.Is(err, engine.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}

	t.Run("prompt blocked", func(t *testing.T) {
		e.model = &stubModel{resp: &genai.GenerateContentResponse{
			PromptFeedback: &genai.PromptFeedback{BlockReason: genai.BlockedReasonSafety},
		}}
		_, err := e.OCR(ctx, writeImage(t, "a.png"), "p")
		if !errors.Is(err, engine.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestMapError(t *testing.T) {
	tests := []struct {
		code codes.Code
		want error
	}{
		{codes.DeadlineExceeded, engine.ErrTimeout},
		{codes.Unavailable, engine.ErrUnavailable},
		{codes.ResourceExhausted, engine.ErrUnavailable},
		{codes.Unauthenticated, engine.ErrLoginRequired},
		{codes.PermissionDenied, engine.ErrLoginRequired},
		{codes.InvalidArgument, engine.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			err := mapError(status.Error(tt.code, "boom"))
			if !errors.Is(err, tt.want) {
				t.Errorf("code %s: expected %v, got %v", tt.code, tt.want, err)
			}
		})
	}

	plain := errors.New("plain")
	if got := mapError(plain); got != plain {
		t.Errorf("non-status errors should pass through, got %v", got)
	}
	if got := mapError(status.Error(codes.Internal, "x")); errors.Is(got, engine.ErrUnavailable) {
		t.Errorf("internal should stay unmapped, got %v", got)
	}
}

func TestRecoverHonoursRetryInfo(t *testing.T) {
	st, err := status.New(codes.ResourceExhausted, "quota").WithDetails(&errdetails.RetryInfo{
		RetryDelay: durationpb.New(20 * time.Millisecond),
	})
	if err != nil {
		t.Fatalf("WithDetails failed: %v", err)
	}
	if d := retryDelay(st.Err()); d != 20*time.Millisecond {
		t.Fatalf("expected 20ms delay, got %v", d)
	}

	e := New(Config{Project: "p"})
	e.model = &stubModel{err: st.Err()}
	if _, err := e.OCR(context.Background(), writeImage(t, "a.png"), "p"); !errors.Is(err, engine.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	start := time.Now()
	if err := e.Recover(context.Background()); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("Recover returned before the retry delay")
	}

	// The delay is consumed once.
	start = time.Now()
	_ = e.Recover(context.Background())
	if time.Since(start) > 10*time.Millisecond {
		t.Error("second Recover should not wait")
	}
}

func TestOCR_DropsStaleRetryDelay(t *testing.T) {
	e := New(Config{Project: "p"})
	e.retryWait = time.Hour
	e.model = &stubModel{resp: textResponse(genai.Text("ok"))}

	if _, err := e.OCR(context.Background(), writeImage(t, "b.png"), "p"); err != nil {
		t.Fatalf("OCR failed: %v", err)
	}

	start := time.Now()
	if err := e.Recover(context.Background()); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Error("Recover waited on a delay from an earlier document")
	}
}

func TestRecoverCancelled(t *testing.T) {
	e := New(Config{})
	e.retryWait = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Recover(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
