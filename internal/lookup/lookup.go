// Package lookup finds the editor's title field, rich content editor and
// submit control using configurable, prioritized selector tables.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xkilldash9x/quill/internal/config"
	"github.com/xkilldash9x/quill/internal/page"
	"go.uber.org/zap"
)

// Goal names what an element is being looked up for.
type Goal string

const (
	GoalTitle   Goal = "title"
	GoalContent Goal = "content"
	GoalSubmit  Goal = "submit"
)

// ElementNotFoundError reports that no element satisfied a goal.
type ElementNotFoundError struct {
	Goal   Goal
	Detail string
}

func (e *ElementNotFoundError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s element not found: %s", e.Goal, e.Detail)
	}
	return fmt.Sprintf("%s element not found", e.Goal)
}

// Tables holds the selector tables and heuristics for one platform.
type Tables struct {
	TitleCandidates string
	Title           []string
	Content         []string
	Paste           []string
	Submit          []string
	SubmitScan      string
	SubmitKeywords  []string
	UIMarker        string
	TitleMaxHeight  float64
	TitlePresence   string
	ContentPresence string
}

// TablesFromConfig builds the lookup tables from platform configuration.
func TablesFromConfig(cfg config.PlatformConfig) Tables {
	return Tables{
		TitleCandidates: cfg.Selectors.TitleCandidates,
		Title:           cfg.Selectors.Title,
		Content:         cfg.Selectors.Content,
		Paste:           cfg.Selectors.Paste,
		Submit:          cfg.Selectors.Submit,
		SubmitScan:      cfg.Selectors.SubmitScan,
		SubmitKeywords:  cfg.SubmitKeywords,
		UIMarker:        cfg.UIMarker,
		TitleMaxHeight:  cfg.TitleMaxHeight,
		TitlePresence:   cfg.Selectors.TitlePresence,
		ContentPresence: cfg.Selectors.ContentPresence,
	}
}

// Budget bounds a polling wait. Polling stops at whichever of Timeout or
// MaxAttempts is reached first; a zero MaxAttempts derives it from Timeout.
type Budget struct {
	Timeout     time.Duration
	Interval    time.Duration
	MaxAttempts int
}

func (b Budget) attempts() int {
	n := 1
	if b.Interval > 0 {
		n = int(b.Timeout/b.Interval) + 1
	}
	if b.MaxAttempts > 0 && b.MaxAttempts < n {
		n = b.MaxAttempts
	}
	return n
}

// Lookup resolves goals against a live document.
type Lookup struct {
	finder  page.Finder
	tables  Tables
	sleeper page.Sleeper
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a Lookup.
func New(finder page.Finder, tables Tables, sleeper page.Sleeper, logger *zap.Logger) *Lookup {
	return &Lookup{
		finder:  finder,
		tables:  tables,
		sleeper: sleeper,
		logger:  logger.Named("lookup"),
		now:     time.Now,
	}
}

// Tables returns the tables this Lookup searches.
func (l *Lookup) Tables() Tables { return l.tables }

// Title picks the topmost short editable field, falling back to the fixed
// title table.
func (l *Lookup) Title(ctx context.Context) (page.ElementInfo, error) {
	if l.tables.TitleCandidates != "" {
		candidates, err := l.finder.QueryAll(ctx, l.tables.TitleCandidates)
		if err != nil {
			return page.ElementInfo{}, err
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Rect.Top < candidates[j].Rect.Top
		})
		for _, c := range candidates {
			if l.looksLikeTitle(c) {
				l.logger.Debug("Title field found by position.", zap.String("tag", c.Tag), zap.Float64("top", c.Rect.Top))
				return c, nil
			}
		}
	}

	info, ok, err := l.first(ctx, l.tables.Title)
	if err != nil {
		return page.ElementInfo{}, err
	}
	if !ok {
		return page.ElementInfo{}, &ElementNotFoundError{Goal: GoalTitle}
	}
	return info, nil
}

func (l *Lookup) looksLikeTitle(c page.ElementInfo) bool {
	if m := l.tables.UIMarker; m != "" && (strings.Contains(c.ID, m) || strings.Contains(c.Class, m)) {
		return false
	}
	if !c.Visible || c.Rect.Height >= l.tables.TitleMaxHeight {
		return false
	}
	switch c.Tag {
	case "INPUT", "TEXTAREA":
		return true
	case "DIV":
		return c.Editable()
	}
	return false
}

// Content returns the first match of the content table.
func (l *Lookup) Content(ctx context.Context) (page.ElementInfo, bool, error) {
	return l.first(ctx, l.tables.Content)
}

// Paste returns the first match of the paste-target table.
func (l *Lookup) Paste(ctx context.Context) (page.ElementInfo, bool, error) {
	return l.first(ctx, l.tables.Paste)
}

// Submit finds the submit control: the fixed table first, then the first
// scanned button whose label carries one of the submit keywords.
func (l *Lookup) Submit(ctx context.Context) (page.ElementInfo, error) {
	info, ok, err := l.first(ctx, l.tables.Submit)
	if err != nil {
		return page.ElementInfo{}, err
	}
	if ok {
		return info, nil
	}
	if l.tables.SubmitScan != "" {
		buttons, err := l.finder.QueryAll(ctx, l.tables.SubmitScan)
		if err != nil {
			return page.ElementInfo{}, err
		}
		for _, b := range buttons {
			label := strings.TrimSpace(b.Label)
			for _, kw := range l.tables.SubmitKeywords {
				if kw != "" && strings.Contains(label, kw) {
					return b, nil
				}
			}
		}
	}
	return page.ElementInfo{}, &ElementNotFoundError{Goal: GoalSubmit}
}

func (l *Lookup) first(ctx context.Context, selectors []string) (page.ElementInfo, bool, error) {
	for _, sel := range selectors {
		info, ok, err := l.finder.Query(ctx, sel)
		if err != nil {
			return page.ElementInfo{}, false, err
		}
		if ok {
			return info, true, nil
		}
	}
	return page.ElementInfo{}, false, nil
}

// WaitContentReady polls until the content editor exists and is ready for
// input. It reports false, not an error, when the budget runs out.
func (l *Lookup) WaitContentReady(ctx context.Context, b Budget) (page.ElementInfo, bool, error) {
	var found page.ElementInfo
	ok, err := l.poll(ctx, b, func() (bool, error) {
		info, ok, err := l.Content(ctx)
		if err != nil || !ok || !info.Ready() {
			return false, err
		}
		found = info
		return true, nil
	})
	return found, ok, err
}

// WaitPresent polls until selector matches anything.
func (l *Lookup) WaitPresent(ctx context.Context, selector string, b Budget) (bool, error) {
	return l.poll(ctx, b, func() (bool, error) {
		_, ok, err := l.finder.Query(ctx, selector)
		return ok, err
	})
}

func (l *Lookup) poll(ctx context.Context, b Budget, check func() (bool, error)) (bool, error) {
	start := l.now()
	limit := b.attempts()
	for attempt := 1; ; attempt++ {
		ok, err := check()
		if err != nil {
			if errors.Is(err, page.ErrPageGone) || ctx.Err() != nil {
				return false, err
			}
			l.logger.Debug("Lookup attempt failed.", zap.Int("attempt", attempt), zap.Error(err))
		}
		if ok {
			return true, nil
		}
		if attempt >= limit || l.now().Sub(start) >= b.Timeout {
			l.logger.Debug("Lookup budget exhausted.", zap.Int("attempts", attempt))
			return false, nil
		}
		if err := l.sleeper.Sleep(ctx, b.Interval); err != nil {
			return false, err
		}
	}
}
