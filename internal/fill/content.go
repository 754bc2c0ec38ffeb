package fill

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/xkilldash9x/quill/internal/ladder"
	"github.com/xkilldash9x/quill/internal/lookup"
	"github.com/xkilldash9x/quill/internal/page"
	"go.uber.org/zap"
)

const (
	pauseKey          = 30 * time.Millisecond
	pausePasteEvent   = 50 * time.Millisecond
	pauseFocus        = 300 * time.Millisecond
	pauseRefocus      = 200 * time.Millisecond
	pauseClearSelect  = 100 * time.Millisecond
	pauseClearDelete  = 500 * time.Millisecond
	pauseDraftClear   = 200 * time.Millisecond
	pauseInsertSettle = 500 * time.Millisecond
	pauseEditorWarmup = time.Second
	pauseDraftWarmup  = 800 * time.Millisecond
	pauseHTMLSettle   = time.Second
	pauseChunkEvent   = 300 * time.Millisecond
	pauseFinalInput   = 200 * time.Millisecond
)

// Skipped is the strategy name reported when a fill was already running.
const Skipped = "skipped"

var errStillEmpty = errors.New("editor still empty after insertion")

// ContentEngine writes rich HTML into the editor's content area.
type ContentEngine struct {
	Deps
	Sanitizer Sanitizer
	logger    *zap.Logger
	busy      atomic.Bool
}

// NewContentEngine creates a ContentEngine. imageHost prefixes root-relative
// image paths during sanitation.
func NewContentEngine(d Deps, imageHost string) *ContentEngine {
	return &ContentEngine{
		Deps:      d,
		Sanitizer: Sanitizer{ImageHost: imageHost},
		logger:    d.Logger.Named("content"),
	}
}

// Fill waits for the editor to become ready and runs the content ladder. An
// overlapping call returns immediately with a Skipped result.
func (e *ContentEngine) Fill(ctx context.Context, markup string) (ladder.Result, error) {
	if !e.busy.CompareAndSwap(false, true) {
		e.logger.Info("Content fill already in progress; skipping overlapping call.")
		return ladder.Result{Strategy: Skipped}, nil
	}
	defer e.busy.Store(false)

	editor, ok, err := e.Lookup.WaitContentReady(ctx, lookup.Budget{
		Timeout:     e.Timing.ReadyTimeout,
		Interval:    e.Timing.ReadyPoll,
		MaxAttempts: e.Timing.ReadyMaxAttempts,
	})
	if err != nil {
		return ladder.Result{}, err
	}
	if !ok {
		return ladder.Result{}, &lookup.ElementNotFoundError{Goal: lookup.GoalContent, Detail: "content editor not found or not ready"}
	}

	e.Sanitizer.Scheme = e.pageScheme(ctx)

	l := &ladder.Ladder[string]{
		Goal: string(lookup.GoalContent),
		Strategies: []ladder.Strategy[string]{
			{Name: "clipboard-paste", Attempt: e.clipboardPaste},
			{Name: "paste-like", Attempt: e.pasteLike},
			{Name: "chunked", Attempt: e.chunked},
			{Name: "input-event", Attempt: e.inputEvent},
			{Name: "char-by-char", Attempt: e.charByChar},
		},
		Verify: func(ctx context.Context, el page.Element, _ string) (bool, error) {
			return e.nonEmpty(ctx, el)
		},
		PostWait: e.Timing.ContentSettle,
		Sleeper:  e.Sleeper,
		Logger:   e.logger,
		Observer: e.Observer,
	}
	return l.Run(ctx, editor.Handle, markup)
}

func (e *ContentEngine) pageScheme(ctx context.Context) string {
	loc, err := e.Page.Location(ctx)
	if err != nil {
		return "https:"
	}
	u, err := url.Parse(loc)
	if err != nil || u.Scheme == "" {
		return "https:"
	}
	return u.Scheme + ":"
}

func (e *ContentEngine) nonEmpty(ctx context.Context, el page.Element) (bool, error) {
	v, err := e.Page.Value(ctx, el)
	return strings.TrimSpace(v) != "", err
}

// clearIfNonEmpty removes existing content. useCommand selects through the
// native selectAll command instead of selecting the element's contents.
func (e *ContentEngine) clearIfNonEmpty(ctx context.Context, el page.Element, useCommand bool, settle time.Duration) error {
	full, err := e.nonEmpty(ctx, el)
	if err != nil || !full {
		return err
	}
	if useCommand {
		_, err = e.Page.ExecCommand(ctx, "selectAll", "")
	} else {
		err = e.Page.Select(ctx, el)
	}
	if err != nil {
		return err
	}
	if err := e.Sleeper.Sleep(ctx, pauseClearSelect); err != nil {
		return err
	}
	if _, err := e.Page.ExecCommand(ctx, "delete", ""); err != nil {
		return err
	}
	return e.Sleeper.Sleep(ctx, settle)
}

// ensureFocus clicks and focuses el, refocusing once if focus landed elsewhere.
func (e *ContentEngine) ensureFocus(ctx context.Context, el page.Element) error {
	if err := e.Page.Click(ctx, el); err != nil {
		return err
	}
	if err := e.Page.Focus(ctx, el); err != nil {
		return err
	}
	if err := e.Sleeper.Sleep(ctx, pauseFocus); err != nil {
		return err
	}
	focused, err := e.Page.HasFocus(ctx, el)
	if err != nil {
		return err
	}
	if focused {
		return nil
	}
	e.logger.Debug("Editor did not take focus; refocusing.")
	if err := e.Page.Focus(ctx, el); err != nil {
		return err
	}
	return e.Sleeper.Sleep(ctx, pauseRefocus)
}

func (e *ContentEngine) clipboardPaste(ctx context.Context, el page.Element, markup string) (bool, error) {
	text := HTMLToText(markup)

	copied, err := e.Page.CopyHTML(ctx, markup)
	if err != nil {
		if fatal(ctx, err) {
			return false, err
		}
		e.logger.Debug("Scratch copy failed.", zap.Error(err))
		copied = false
	}
	if !copied {
		if err := e.Page.WriteClipboardText(ctx, text); err != nil {
			if fatal(ctx, err) {
				return false, err
			}
			e.logger.Info("Clipboard unavailable; skipping real paste.", zap.Error(err))
			return false, nil
		}
	}

	target := el
	if info, ok, err := e.Lookup.Paste(ctx); err != nil {
		return false, err
	} else if ok {
		target = info.Handle
	}

	if err := e.Page.Focus(ctx, target); err != nil {
		return false, err
	}
	if err := e.Page.Click(ctx, target); err != nil {
		return false, err
	}
	if err := e.Sleeper.Sleep(ctx, e.Timing.PasteFocusSettle); err != nil {
		return false, err
	}
	if err := e.Page.Focus(ctx, target); err != nil {
		return false, err
	}
	if err := e.Sleeper.Sleep(ctx, pauseFocus); err != nil {
		return false, err
	}
	if err := e.clearIfNonEmpty(ctx, target, true, pauseClearDelete); err != nil {
		return false, err
	}
	if err := e.Page.Focus(ctx, target); err != nil {
		return false, err
	}
	if err := e.Sleeper.Sleep(ctx, pauseRefocus); err != nil {
		return false, err
	}

	pasted, err := e.Page.ExecCommand(ctx, "paste", "")
	if err != nil && fatal(ctx, err) {
		return false, err
	}
	if err != nil || !pasted {
		if err := e.keyboardPaste(ctx, target, markup, text); err != nil {
			if fatal(ctx, err) {
				return false, err
			}
			e.logger.Warn("Synthetic paste sequence failed.", zap.Error(err))
		}
	}

	if err := e.Sleeper.Sleep(ctx, e.Timing.PasteSettle); err != nil {
		return false, err
	}
	return e.nonEmpty(ctx, target)
}

// keyboardPaste replays modifier down, V down, paste, V up, modifier up.
func (e *ContentEngine) keyboardPaste(ctx context.Context, el page.Element, markup, text string) error {
	platform, err := e.Page.Platform(ctx)
	if err != nil {
		return err
	}
	mac := strings.Contains(platform, "Mac")
	mod, modCode := "Control", "ControlLeft"
	if mac {
		mod, modCode = "Meta", "MetaLeft"
	}

	steps := []struct {
		ev    page.Event
		pause time.Duration
	}{
		{page.Event{Type: "keydown", Key: mod, Code: modCode, Location: 1, CtrlKey: !mac, MetaKey: mac, Bubbles: true, Cancelable: true, Composed: true}, pauseKey},
		{page.Event{Type: "keydown", Key: "v", Code: "KeyV", CtrlKey: !mac, MetaKey: mac, Bubbles: true, Cancelable: true, Composed: true}, pauseKey},
		{page.Event{Type: "paste", HTML: markup, Text: text, Bubbles: true, Cancelable: true}, pausePasteEvent},
		{page.Event{Type: "keyup", Key: "v", Code: "KeyV", CtrlKey: !mac, MetaKey: mac, Bubbles: true, Cancelable: true}, pausePasteEvent},
		{page.Event{Type: "keyup", Key: mod, Code: modCode, Location: 1, Bubbles: true, Cancelable: true}, pauseEvent},
	}
	for _, s := range steps {
		if _, err := e.Page.Dispatch(ctx, el, s.ev); err != nil {
			return err
		}
		if err := e.Sleeper.Sleep(ctx, s.pause); err != nil {
			return err
		}
	}
	return nil
}

func (e *ContentEngine) pasteLike(ctx context.Context, el page.Element, markup string) (bool, error) {
	if err := e.Sleeper.Sleep(ctx, pauseEditorWarmup); err != nil {
		return false, err
	}
	if err := e.ensureFocus(ctx, el); err != nil {
		return false, err
	}
	text := HTMLToText(markup)
	if err := e.clearIfNonEmpty(ctx, el, false, pauseClearDelete); err != nil {
		return false, err
	}

	inserted := false
	if cleaned, err := e.Sanitizer.Sanitize(markup); err != nil {
		e.logger.Debug("Sanitation failed.", zap.Error(err))
	} else {
		ok, err := e.Page.ExecCommand(ctx, "insertHTML", cleaned)
		switch {
		case err == nil:
			inserted = ok
		case fatal(ctx, err):
			return false, err
		case isEncodingError(err):
			e.logger.Debug("insertHTML hit an encoding error; inserting text.", zap.Error(err))
			if inserted, err = e.Page.ExecCommand(ctx, "insertText", text); err != nil {
				if fatal(ctx, err) {
					return false, err
				}
				e.logger.Debug("insertText failed.", zap.Error(err))
			}
		default:
			e.logger.Debug("insertHTML failed.", zap.Error(err))
		}
	}

	if !inserted {
		if err := e.Page.AppendHTML(ctx, el, markup); err != nil {
			if fatal(ctx, err) {
				return false, err
			}
			e.logger.Debug("Fragment append failed.", zap.Error(err))
		} else {
			inserted = true
		}
	}

	if !inserted {
		ok, err := e.Page.ExecCommand(ctx, "insertText", text)
		if err != nil && fatal(ctx, err) {
			return false, err
		}
		if !ok {
			if err := e.Page.SetValue(ctx, el, text); err != nil {
				return false, err
			}
		}
	}

	if err := e.Sleeper.Sleep(ctx, 2*pauseInsertSettle); err != nil {
		return false, err
	}
	full, err := e.nonEmpty(ctx, el)
	if err != nil {
		return false, err
	}
	if !full {
		return false, errStillEmpty
	}
	return true, nil
}

func (e *ContentEngine) chunked(ctx context.Context, el page.Element, markup string) (bool, error) {
	if err := e.Sleeper.Sleep(ctx, pauseDraftWarmup); err != nil {
		return false, err
	}
	if err := e.ensureFocus(ctx, el); err != nil {
		return false, err
	}
	text := HTMLToText(markup)
	if err := e.clearIfNonEmpty(ctx, el, false, pauseDraftClear); err != nil {
		return false, err
	}

	if HasImages(markup) {
		if cleaned, err := e.Sanitizer.Sanitize(markup); err == nil {
			ok, err := e.Page.ExecCommand(ctx, "insertHTML", cleaned)
			if err != nil && fatal(ctx, err) {
				return false, err
			}
			if err == nil && ok {
				if err := e.Sleeper.Sleep(ctx, pauseHTMLSettle); err != nil {
					return false, err
				}
				if full, err := e.nonEmpty(ctx, el); err != nil || full {
					return full, err
				}
			}
			e.logger.Debug("Image-preserving insert did not stick; inserting text chunks.")
		}
	}

	for i, part := range chunk(text, e.Timing.ChunkSize) {
		ok, err := e.Page.ExecCommand(ctx, "insertText", part)
		if err != nil && fatal(ctx, err) {
			return false, err
		}
		if err != nil || !ok {
			ev := page.Event{Type: "input", InputType: "insertText", Data: part, Bubbles: true, Cancelable: true}
			if _, err := e.Page.Dispatch(ctx, el, ev); err != nil {
				if fatal(ctx, err) {
					return false, err
				}
				e.logger.Debug("Chunk insertion failed.", zap.Int("chunk", i), zap.Error(err))
			}
			if err := e.Sleeper.Sleep(ctx, pauseChunkEvent); err != nil {
				return false, err
			}
		}
		if err := e.Sleeper.Sleep(ctx, e.Timing.ChunkDelay); err != nil {
			return false, err
		}
	}

	if err := e.Sleeper.Sleep(ctx, pauseHTMLSettle); err != nil {
		return false, err
	}
	full, err := e.nonEmpty(ctx, el)
	if err != nil {
		return false, err
	}
	if !full {
		return false, errStillEmpty
	}
	if _, err := e.Page.Dispatch(ctx, el, page.Event{Type: "input", Bubbles: true}); err != nil {
		return false, err
	}
	return true, e.Sleeper.Sleep(ctx, pauseFinalInput)
}

// inputEvent always reports success.
func (e *ContentEngine) inputEvent(ctx context.Context, el page.Element, markup string) (bool, error) {
	if err := e.Page.Focus(ctx, el); err != nil {
		return false, err
	}
	if err := e.Sleeper.Sleep(ctx, pauseRefocus); err != nil {
		return false, err
	}
	ev := page.Event{Type: "input", InputType: "insertText", Data: HTMLToText(markup), Bubbles: true, Cancelable: true}
	if _, err := e.Page.Dispatch(ctx, el, ev); err != nil {
		return false, err
	}
	return true, e.Sleeper.Sleep(ctx, pauseFocus)
}

// charByChar always reports success.
func (e *ContentEngine) charByChar(ctx context.Context, el page.Element, markup string) (bool, error) {
	if err := e.Page.Focus(ctx, el); err != nil {
		return false, err
	}
	if err := e.Sleeper.Sleep(ctx, pauseRefocus); err != nil {
		return false, err
	}
	return true, typeChars(ctx, e.Deps, el, HTMLToText(markup), e.Timing.ContentCharDelay, false)
}

func isEncodingError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "btoa") || strings.Contains(msg, "Latin1")
}

func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, page.ErrPageGone)
}
