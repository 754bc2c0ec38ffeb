package fill

import (
	"context"
	"strings"
	"time"

	"github.com/xkilldash9x/quill/internal/config"
	"github.com/xkilldash9x/quill/internal/ladder"
	"github.com/xkilldash9x/quill/internal/lookup"
	"github.com/xkilldash9x/quill/internal/page"
	"go.uber.org/zap"
)

// Short pauses between DOM steps, letting listener-driven UI catch up.
const (
	pauseScrollSettle = 200 * time.Millisecond
	pauseEvent        = 100 * time.Millisecond
	pauseSelect       = 50 * time.Millisecond
)

// Deps bundles what the fill engines share.
type Deps struct {
	Page     page.Page
	Lookup   *lookup.Lookup
	Sleeper  page.Sleeper
	Timing   config.TimingConfig
	Observer ladder.Observer
	Logger   *zap.Logger
}

// TitleEngine writes a single-line title into the editor's title field.
type TitleEngine struct {
	Deps
	logger *zap.Logger
}

// NewTitleEngine creates a TitleEngine.
func NewTitleEngine(d Deps) *TitleEngine {
	return &TitleEngine{Deps: d, logger: d.Logger.Named("title")}
}

// Fill locates the title field and runs the title ladder. Once a strategy is
// accepted it waits, then clicks the page body so the site sees a blur.
func (e *TitleEngine) Fill(ctx context.Context, title string) (ladder.Result, error) {
	field, err := e.Lookup.Title(ctx)
	if err != nil {
		return ladder.Result{}, err
	}
	e.logger.Debug("Title field located.", zap.String("tag", field.Tag), zap.String("class", field.Class))

	l := &ladder.Ladder[string]{
		Goal: string(lookup.GoalTitle),
		Strategies: []ladder.Strategy[string]{
			{Name: "direct", Attempt: e.direct},
			{Name: "input-event", Attempt: e.inputEvent},
			{Name: "exec-command", Attempt: e.execCommand},
			{Name: "char-by-char", Attempt: e.charByChar},
		},
		Verify: func(ctx context.Context, el page.Element, want string) (bool, error) {
			got, err := e.Page.Value(ctx, el)
			return got == want, err
		},
		Sleeper:  e.Sleeper,
		Logger:   e.logger,
		Observer: e.Observer,
	}
	res, err := l.Run(ctx, field.Handle, title)
	if err != nil {
		return res, err
	}

	if err := e.Sleeper.Sleep(ctx, e.Timing.TitleSettle); err != nil {
		return res, err
	}
	if err := e.Page.ClickBody(ctx); err != nil {
		return res, err
	}
	return res, e.Sleeper.Sleep(ctx, e.Timing.TitleBlurSettle)
}

func (e *TitleEngine) direct(ctx context.Context, el page.Element, title string) (bool, error) {
	if err := e.Page.Focus(ctx, el); err != nil {
		return false, err
	}
	if err := e.Page.ScrollIntoView(ctx, el); err != nil {
		return false, err
	}
	if err := e.Sleeper.Sleep(ctx, pauseScrollSettle); err != nil {
		return false, err
	}
	if err := e.Page.SetValue(ctx, el, ""); err != nil {
		return false, err
	}
	if err := e.Page.SetValue(ctx, el, title); err != nil {
		return false, err
	}
	for _, typ := range []string{"input", "change", "blur"} {
		if _, err := e.Page.Dispatch(ctx, el, page.Event{Type: typ, Bubbles: true}); err != nil {
			return false, err
		}
		if err := e.Sleeper.Sleep(ctx, pauseEvent); err != nil {
			return false, err
		}
	}
	got, err := e.Page.Value(ctx, el)
	return got == title, err
}

func (e *TitleEngine) inputEvent(ctx context.Context, el page.Element, title string) (bool, error) {
	if err := e.Page.Focus(ctx, el); err != nil {
		return false, err
	}
	if err := e.Page.Click(ctx, el); err != nil {
		return false, err
	}
	if err := e.Sleeper.Sleep(ctx, pauseEvent); err != nil {
		return false, err
	}
	if err := e.Page.Select(ctx, el); err != nil {
		return false, err
	}
	if err := e.Sleeper.Sleep(ctx, pauseSelect); err != nil {
		return false, err
	}
	ev := page.Event{Type: "input", InputType: "insertText", Data: title, Bubbles: true, Cancelable: true}
	if _, err := e.Page.Dispatch(ctx, el, ev); err != nil {
		return false, err
	}
	if err := e.Sleeper.Sleep(ctx, pauseEvent); err != nil {
		return false, err
	}
	got, err := e.Page.Value(ctx, el)
	if err != nil {
		return false, err
	}
	return strings.Contains(got, title) || strings.TrimSpace(got) == strings.TrimSpace(title), nil
}

func (e *TitleEngine) execCommand(ctx context.Context, el page.Element, title string) (bool, error) {
	if err := e.selectAndDelete(ctx, el); err != nil {
		return false, err
	}
	if err := e.Sleeper.Sleep(ctx, pauseSelect); err != nil {
		return false, err
	}
	ok, err := e.Page.ExecCommand(ctx, "insertText", title)
	if err != nil {
		return false, err
	}
	return ok, e.Sleeper.Sleep(ctx, pauseEvent)
}

// charByChar always reports success; the ladder's exact match decides.
func (e *TitleEngine) charByChar(ctx context.Context, el page.Element, title string) (bool, error) {
	if err := e.selectAndDelete(ctx, el); err != nil {
		return false, err
	}
	if err := e.Sleeper.Sleep(ctx, pauseEvent); err != nil {
		return false, err
	}
	return true, typeChars(ctx, e.Deps, el, title, e.Timing.TitleCharDelay, true)
}

func (e *TitleEngine) selectAndDelete(ctx context.Context, el page.Element) error {
	if err := e.Page.Focus(ctx, el); err != nil {
		return err
	}
	if err := e.Page.Select(ctx, el); err != nil {
		return err
	}
	_, err := e.Page.ExecCommand(ctx, "delete", "")
	return err
}

// typeChars injects text one character at a time. A cancelled beforeinput
// means the page will not insert the character itself, so it is appended
// directly. With withInput set an input event follows every character.
func typeChars(ctx context.Context, d Deps, el page.Element, text string, delay time.Duration, withInput bool) error {
	for _, r := range text {
		ch := string(r)
		prevented, err := d.Page.Dispatch(ctx, el, page.Event{
			Type: "beforeinput", InputType: "insertText", Data: ch, Bubbles: true, Cancelable: true,
		})
		if err != nil {
			return err
		}
		if prevented {
			if err := d.Page.AppendValue(ctx, el, ch); err != nil {
				return err
			}
		}
		if withInput {
			if _, err := d.Page.Dispatch(ctx, el, page.Event{Type: "input", InputType: "insertText", Data: ch, Bubbles: true}); err != nil {
				return err
			}
		}
		if err := d.Sleeper.Sleep(ctx, delay); err != nil {
			return err
		}
	}
	return nil
}
