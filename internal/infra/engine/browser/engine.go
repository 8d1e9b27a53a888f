// Package browser drives a chat web UI through Chrome DevTools to transcribe images.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/vietddude/scribe/internal/infra/engine"
)

const (
	sendRetries  = 3
	pollInterval = 200 * time.Millisecond
	// Response text must stay unchanged this long before it counts as complete.
	stability = 500 * time.Millisecond
)

// Engine keeps one browser tab open on the chat page.
type Engine struct {
	cfg   Config
	debug *Debugger
	log   *slog.Logger

	mu          sync.Mutex
	tab         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
}

var _ engine.Engine = (*Engine)(nil)

// New creates a browser engine. Start opens the browser.
func New(cfg Config) *Engine {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	cfg.Timeouts = cfg.Timeouts.withDefaults()
	return &Engine{
		cfg:   cfg,
		debug: &Debugger{Dir: cfg.DebugDir},
		log:   slog.Default().With("engine", "browser"),
	}
}

func (e *Engine) Name() string { return "browser" }

// Start launches Chrome with the persistent profile and opens the chat page.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tab != nil {
		return nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", e.cfg.Headless),
		chromedp.Flag("disable-gpu", e.cfg.Headless),
	)
	if e.cfg.ProfileDir != "" {
		dir, err := filepath.Abs(e.cfg.ProfileDir)
		if err != nil {
			return fmt.Errorf("failed to resolve profile dir: %w", err)
		}
		opts = append(opts, chromedp.UserDataDir(dir))
	}
	if e.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(e.cfg.ExecPath))
	}

	// The browser outlives the Start call, so it hangs off a background context.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	tab, cancelTab := chromedp.NewContext(allocCtx)

	e.tab, e.cancelTab, e.cancelAlloc = tab, cancelTab, cancelAlloc

	if err := e.open(ctx); err != nil {
		e.closeLocked()
		return err
	}
	e.log.Info("Browser session started", "url", e.cfg.URL, "headless", e.cfg.Headless)
	return nil
}

// Stop closes the tab and the browser.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeLocked()
	return nil
}

func (e *Engine) closeLocked() {
	if e.cancelTab != nil {
		e.cancelTab()
	}
	if e.cancelAlloc != nil {
		e.cancelAlloc()
	}
	e.tab, e.cancelTab, e.cancelAlloc = nil, nil, nil
}

// open navigates to the chat page and checks the session is signed in.
func (e *Engine) open(ctx context.Context) error {
	err := e.run(ctx, e.cfg.Timeouts.PageLoad, "navigate",
		chromedp.Navigate(e.cfg.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return err
	}
	if err := e.assertOnChat(ctx); err != nil {
		return err
	}
	return e.run(ctx, e.cfg.Timeouts.FindComposer, "find composer",
		chromedp.WaitVisible(composerSelector, chromedp.ByQuery),
	)
}

// run executes actions on the tab with a phase budget, honouring ctx cancellation.
func (e *Engine) run(ctx context.Context, budget time.Duration, phase string, actions ...chromedp.Action) error {
	tab := e.tab
	if tab == nil {
		return engine.ErrNotStarted
	}
	tctx, cancel := context.WithTimeout(tab, budget)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(tctx, actions...); err != nil {
		return e.wrap(ctx, phase, err)
	}
	return nil
}

// wrap attaches an engine sentinel so failures classify by kind.
func (e *Engine) wrap(ctx context.Context, phase string, err error) error {
	switch {
	case ctx.Err() != nil:
		return fmt.Errorf("%s: %w", phase, ctx.Err())
	case e.tab == nil || e.tab.Err() != nil, errors.Is(err, chromedp.ErrInvalidContext):
		return fmt.Errorf("%s: %w: %w", phase, engine.ErrTargetClosed, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w: %w", phase, engine.ErrTimeout, err)
	default:
		return fmt.Errorf("%s: %w", phase, err)
	}
}

func (e *Engine) assertOnChat(ctx context.Context) error {
	var url string
	if err := e.run(ctx, e.cfg.Timeouts.CleanupWait, "location", chromedp.Location(&url)); err != nil {
		return err
	}
	u := strings.ToLower(url)
	if strings.Contains(u, "accounts.google.com") || strings.Contains(u, "myactivity.google.com") {
		return fmt.Errorf("redirected to %s: %w", url, engine.ErrLoginRequired)
	}
	return nil
}

// poll evaluates cond until it reports true, the budget runs out, or ctx ends.
func (e *Engine) poll(ctx context.Context, budget time.Duration, phase string, cond func(context.Context) (bool, error)) error {
	deadline := time.Now().Add(budget)
	for {
		ok, err := cond(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s after %s: %w", phase, budget, engine.ErrTimeout)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", phase, ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

func (e *Engine) evalBool(ctx context.Context, js string) (bool, error) {
	var out bool
	err := e.run(ctx, e.cfg.Timeouts.CleanupWait, "evaluate", chromedp.Evaluate(js, &out))
	return out, err
}

func (e *Engine) evalInt(ctx context.Context, js string) (int, error) {
	var out int
	err := e.run(ctx, e.cfg.Timeouts.CleanupWait, "evaluate", chromedp.Evaluate(js, &out))
	return out, err
}

// OCR uploads the image, sends the prompt and returns the last response as text.
func (e *Engine) OCR(ctx context.Context, path, prompt string) (*engine.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tab == nil {
		return nil, engine.ErrNotStarted
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, err
	}

	res, label, err := e.transcribe(ctx, abs, prompt)
	if err != nil {
		if ctx.Err() == nil && e.tab != nil && e.tab.Err() == nil {
			e.debug.Capture(e.tab, label)
		}
		return nil, err
	}
	return res, nil
}

func (e *Engine) transcribe(ctx context.Context, path, prompt string) (*engine.Result, string, error) {
	started := time.Now()

	if err := e.assertOnChat(ctx); err != nil {
		return nil, "not_on_chat", err
	}

	before, err := e.evalInt(ctx, countResponsesJS)
	if err != nil {
		return nil, "count_responses", err
	}

	if err := e.upload(ctx, path); err != nil {
		return nil, "upload_failed", err
	}

	err = e.run(ctx, e.cfg.Timeouts.PromptPaste, "paste prompt",
		chromedp.Focus(composerSelector, chromedp.ByQuery),
		input.InsertText(prompt),
	)
	if err != nil {
		return nil, "prompt_paste_failed", err
	}

	if err := e.send(ctx, before); err != nil {
		return nil, "send_failed", err
	}

	text, err := e.awaitResponse(ctx, before)
	if err != nil {
		return nil, "wait_gen_stuck", err
	}

	return &engine.Result{
		Text: text,
		Data: map[string]any{
			"text":        text,
			"url":         e.cfg.URL,
			"duration_ms": time.Since(started).Milliseconds(),
		},
	}, "", nil
}

func (e *Engine) upload(ctx context.Context, path string) error {
	err := e.poll(ctx, e.cfg.Timeouts.UploadOverlay, "open upload", func(ctx context.Context) (bool, error) {
		if ok, err := e.evalBool(ctx, fileInputPresentJS); err != nil || ok {
			return ok, err
		}
		return e.evalBool(ctx, openUploadJS)
	})
	if err != nil {
		return fmt.Errorf("no upload input: %w", err)
	}

	err = e.run(ctx, e.cfg.Timeouts.UploadOverlay, "set upload files",
		chromedp.SetUploadFiles(fileInputSelector, []string{path}, chromedp.ByQuery),
	)
	if err != nil {
		return err
	}

	return e.run(ctx, e.cfg.Timeouts.AttachConfirm+e.cfg.Timeouts.UploadOverlay, "attachment preview",
		chromedp.WaitVisible(previewSelector, chromedp.ByQuery),
	)
}

// send clicks the send button, falling back to Enter, until generation visibly starts.
func (e *Engine) send(ctx context.Context, before int) error {
	var lastErr error
	for attempt := 1; attempt <= sendRetries; attempt++ {
		clicked, err := e.evalBool(ctx, clickSendJS)
		if err != nil {
			return err
		}
		if !clicked {
			err := e.run(ctx, e.cfg.Timeouts.PromptPaste, "press enter",
				chromedp.Focus(composerSelector, chromedp.ByQuery),
				chromedp.KeyEvent(kb.Enter),
			)
			if err != nil {
				lastErr = err
				continue
			}
		}

		lastErr = e.poll(ctx, e.cfg.Timeouts.SendConfirm/sendRetries, "send confirm", func(ctx context.Context) (bool, error) {
			if stop, err := e.evalBool(ctx, stopVisibleJS); err != nil || stop {
				return stop, err
			}
			n, err := e.evalInt(ctx, countResponsesJS)
			return n > before, err
		})
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
		e.log.Debug("Send not confirmed, retrying", "attempt", attempt, "error", lastErr)
	}
	return fmt.Errorf("message not sent after %d attempts: %w", sendRetries, lastErr)
}

// awaitResponse waits until the stop control is gone and the new response text is stable.
func (e *Engine) awaitResponse(ctx context.Context, before int) (string, error) {
	err := e.poll(ctx, e.cfg.Timeouts.GenAppear, "generation start", func(ctx context.Context) (bool, error) {
		n, err := e.evalInt(ctx, countResponsesJS)
		return n > before, err
	})
	if err != nil {
		return "", err
	}

	var last string
	var stableSince time.Time
	err = e.poll(ctx, e.cfg.Timeouts.GenDone, "generation done", func(ctx context.Context) (bool, error) {
		stop, err := e.evalBool(ctx, stopVisibleJS)
		if err != nil {
			return false, err
		}
		var html string
		if err := e.run(ctx, e.cfg.Timeouts.CleanupWait, "read response", chromedp.Evaluate(lastResponseHTMLJS, &html)); err != nil {
			return false, err
		}
		if stop || html == "" || html != last {
			last = html
			stableSince = time.Now()
			return false, nil
		}
		return time.Since(stableSince) >= stability, nil
	})
	if err != nil {
		return "", err
	}

	text, err := htmlToText(last)
	if err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if text == "" {
		return "", fmt.Errorf("empty response: %w", engine.ErrTimeout)
	}
	return text, nil
}

// Recover reloads the chat page, restarting the browser if the tab is gone.
func (e *Engine) Recover(ctx context.Context) error {
	e.mu.Lock()
	dead := e.tab == nil || e.tab.Err() != nil
	e.mu.Unlock()

	if dead {
		e.log.Warn("Browser tab gone, restarting session")
		_ = e.Stop(ctx)
		return e.Start(ctx)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open(ctx)
}
