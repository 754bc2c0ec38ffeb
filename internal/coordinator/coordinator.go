// Package coordinator owns the single in-flight publish task of one page
// document. It admits tasks, runs the fill pipeline, reports the result and
// resumes delivery of a checkpointed result after a navigation.
package coordinator

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/quill/internal/config"
	"github.com/xkilldash9x/quill/internal/fill"
	"github.com/xkilldash9x/quill/internal/journal"
	"github.com/xkilldash9x/quill/internal/ladder"
	"github.com/xkilldash9x/quill/internal/lookup"
	"github.com/xkilldash9x/quill/internal/metrics"
	"github.com/xkilldash9x/quill/internal/page"
	"github.com/xkilldash9x/quill/internal/pending"
	"github.com/xkilldash9x/quill/internal/protocol"
	"go.uber.org/zap"
)

// ErrEditorNotFound is the failure reported when the editor never rendered
// on the editor route.
var ErrEditorNotFound = errors.New("editor elements not found")

// State is the coordinator's lifecycle state.
type State int

const (
	Idle State = iota
	Processing
)

func (s State) String() string {
	if s == Processing {
		return "processing"
	}
	return "idle"
}

// Sender delivers results. gateway.Dispatcher implements it.
type Sender interface {
	SendResult(ctx context.Context, t protocol.Target, res protocol.Result) bool
	Resend(ctx context.Context, origin string, res protocol.Result) bool
}

// Deps are the collaborators of one coordinator.
type Deps struct {
	Page      page.Page
	Lookup    *lookup.Lookup
	Title     *fill.TitleEngine
	Content   *fill.ContentEngine
	Publisher *fill.Publisher
	Pending   *pending.Store
	Sender    Sender
	Protocol  *protocol.Protocol
	Sleeper   page.Sleeper
	Timing    config.TimingConfig
	Platform  config.PlatformConfig
	// Journal and Metrics are optional.
	Journal journal.Recorder
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Coordinator is the Idle/Processing state machine for one document. Its
// context is the document's lifetime: once it is cancelled nothing further
// is written to the page.
type Coordinator struct {
	Deps
	ctx context.Context
	log *zap.Logger

	mu     sync.Mutex
	state  State
	taskID string
	// target is the handshake's default while Idle and the task's reply
	// target while Processing.
	target protocol.Target

	wg sync.WaitGroup
}

// New creates an idle Coordinator bound to ctx.
func New(ctx context.Context, d Deps) *Coordinator {
	return &Coordinator{Deps: d, ctx: ctx, log: d.Logger.Named("coordinator")}
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Busy reports whether a task is in flight.
func (c *Coordinator) Busy() bool { return c.State() == Processing }

// SetDefaultTarget records where a later task's results go when the task
// itself names no window. It is ignored while a task is in flight.
func (c *Coordinator) SetDefaultTarget(t protocol.Target) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Processing {
		c.log.Debug("Handshake during a task; keeping the task's reply target.")
		return
	}
	c.target = t
}

// TaskID returns the in-flight task's id, or "" when Idle.
func (c *Coordinator) TaskID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.taskID
}

// Admit starts task on its own goroutine unless a task is already in flight.
// The checkpoint is written before Admit returns.
func (c *Coordinator) Admit(task protocol.Task) bool {
	c.mu.Lock()
	if c.state == Processing {
		c.mu.Unlock()
		return false
	}
	if task.Reply.Window == "" {
		task.Reply.Window = c.target.Window
	}
	c.state = Processing
	c.taskID = task.ID
	c.target = task.Reply
	c.mu.Unlock()

	c.Metrics.TaskAdmitted()
	c.Pending.Save(c.ctx, pending.Record{
		TaskID:       task.ID,
		Status:       pending.StatusSuccess,
		TargetOrigin: task.Reply.Origin,
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(task)
	}()
	return true
}

// Wait blocks until the in-flight pipeline, if any, has returned.
func (c *Coordinator) Wait() { c.wg.Wait() }

func (c *Coordinator) run(task protocol.Task) {
	ctx := c.ctx
	log := c.log.With(zap.String("task_id", task.ID))
	start := time.Now()
	log.Info("Task pipeline started.")

	loc, redirected, err := c.pipeline(ctx, task)

	entry := journal.Entry{Kind: journal.KindTask, TaskID: task.ID, Platform: task.Platform}
	switch {
	case ctx.Err() != nil || errors.Is(err, page.ErrPageGone):
		// The document is gone; nothing more can be written to it.
		log.Info("Document replaced mid-task; abandoning pipeline.")
		c.mu.Lock()
		c.state, c.taskID = Idle, ""
		c.mu.Unlock()
		entry.Outcome = journal.OutcomeAbandoned
		c.finish(context.Background(), entry, start, false)
		return

	case redirected:
		log.Info("Editor not on this page; redirecting to the editor route.", zap.String("url", c.Platform.EditorURL))
		c.reset(ctx)
		if err := c.Page.Navigate(ctx, c.Platform.EditorURL); err != nil {
			log.Warn("Redirect failed.", zap.Error(err))
		}
		entry.Outcome = journal.OutcomeRedirected
		c.finish(ctx, entry, start, false)
		return

	case err != nil:
		log.Error("Task failed.", zap.Error(err))
		msg := err.Error()
		delivered := c.Sender.SendResult(ctx, task.Reply, c.Protocol.Result(protocol.StatusFailed, task.ID, "", msg))
		c.Pending.Save(ctx, pending.Record{
			TaskID:       task.ID,
			Status:       pending.StatusFailed,
			TargetOrigin: task.Reply.Origin,
			ErrorMessage: msg,
		})
		c.reset(ctx)
		entry.Outcome, entry.Error = journal.OutcomeFailed, msg
		c.finish(ctx, entry, start, delivered)

	default:
		delivered := c.Sender.SendResult(ctx, task.Reply, c.Protocol.Result(protocol.StatusSuccess, task.ID, loc, ""))
		c.reset(ctx)
		log.Info("Task succeeded.", zap.String("url", loc), zap.Bool("delivered", delivered))
		entry.Outcome, entry.URL = journal.OutcomeSuccess, loc
		c.finish(ctx, entry, start, delivered)
	}
}

// pipeline fills and publishes. redirected reports that the page is not
// the editor and should be sent there instead.
func (c *Coordinator) pipeline(ctx context.Context, task protocol.Task) (loc string, redirected bool, err error) {
	if err := c.Sleeper.Sleep(ctx, c.Timing.TaskBuffer); err != nil {
		return "", false, err
	}

	tables := c.Lookup.Tables()
	budget := lookup.Budget{Timeout: c.Timing.PresenceTimeout, Interval: c.Timing.PresencePoll}
	titleOK, err := c.Lookup.WaitPresent(ctx, tables.TitlePresence, budget)
	if err != nil {
		return "", false, err
	}
	contentOK, err := c.Lookup.WaitPresent(ctx, tables.ContentPresence, budget)
	if err != nil {
		return "", false, err
	}
	if !titleOK || !contentOK {
		here, err := c.Page.Location(ctx)
		if err != nil {
			return "", false, err
		}
		if !c.onEditorRoute(here) {
			return "", true, nil
		}
		return "", false, ErrEditorNotFound
	}

	var res ladder.Result
	if task.Title != "" {
		if res, err = c.Title.Fill(ctx, task.Title); err != nil {
			return "", false, err
		}
		c.log.Debug("Title filled.", zap.String("task_id", task.ID), zap.String("strategy", res.Strategy))
	}
	if task.Content != "" {
		if res, err = c.Content.Fill(ctx, task.Content); err != nil {
			return "", false, err
		}
		c.log.Debug("Content filled.", zap.String("task_id", task.ID), zap.String("strategy", res.Strategy))
	}
	if err := c.Publisher.Trigger(ctx, task.AutoPublish); err != nil {
		return "", false, err
	}
	loc, err = c.Page.Location(ctx)
	return loc, false, err
}

// reset returns to Idle and drops the checkpoint.
func (c *Coordinator) reset(ctx context.Context) {
	c.mu.Lock()
	c.state = Idle
	c.taskID = ""
	c.target = protocol.Target{}
	c.mu.Unlock()
	c.Pending.Clear(ctx)
}

func (c *Coordinator) finish(ctx context.Context, e journal.Entry, start time.Time, delivered bool) {
	c.Metrics.TaskSettled(e.Outcome)
	e.Delivered = delivered
	e.Duration = time.Since(start)
	c.journal(ctx, e)
}

func (c *Coordinator) journal(ctx context.Context, e journal.Entry) {
	if c.Journal == nil {
		return
	}
	if err := c.Journal.Record(context.WithoutCancel(ctx), e); err != nil {
		c.log.Warn("Failed to journal task outcome.", zap.String("task_id", e.TaskID), zap.Error(err))
	}
}

func (c *Coordinator) onEditorRoute(loc string) bool {
	here, err := url.Parse(loc)
	if err != nil {
		return false
	}
	editor, err := url.Parse(c.Platform.EditorURL)
	if err != nil {
		return false
	}
	return here.Host == editor.Host && strings.HasPrefix(here.Path, editor.Path)
}

func (c *Coordinator) onArticlePage(loc string) bool {
	here, err := url.Parse(loc)
	if err != nil {
		return false
	}
	return here.Host == c.Platform.ArticleHost && strings.HasPrefix(here.Path, c.Platform.ArticlePathPrefix)
}

// Resume delivers a checkpointed result left behind by the previous
// document. It runs once, before any handshake, when a document loads.
func (c *Coordinator) Resume(ctx context.Context) {
	rec, ok := c.Pending.Get(ctx)
	if !ok {
		return
	}
	log := c.log.With(zap.String("task_id", rec.TaskID))
	if rec.TaskID == "" {
		log.Info("Discarding checkpoint without a task id.")
		c.Pending.Clear(ctx)
		return
	}
	loc, err := c.Page.Location(ctx)
	if err != nil {
		log.Warn("Cannot read location; leaving checkpoint.", zap.Error(err))
		return
	}
	if !c.onArticlePage(loc) {
		log.Debug("Not a published article page; leaving checkpoint.", zap.String("url", loc))
		return
	}
	has, err := c.Page.HasOpener(ctx)
	if err != nil {
		log.Warn("Cannot check opener; leaving checkpoint.", zap.Error(err))
		return
	}
	if !has {
		log.Warn("No opener to resend the result to; discarding checkpoint.")
		c.Pending.Clear(ctx)
		return
	}

	status := rec.Status
	if status == "" {
		status = protocol.StatusSuccess
	}
	errMsg := ""
	if rec.Failed() {
		errMsg = rec.ErrorMessage
	}
	res := c.Protocol.Result(status, rec.TaskID, loc, errMsg)
	entry := journal.Entry{Kind: journal.KindResume, TaskID: rec.TaskID, Platform: c.Protocol.Platform(), URL: loc, Error: errMsg}
	if c.Sender.Resend(ctx, rec.TargetOrigin, res) {
		log.Info("Resent result on the article page.", zap.String("status", status))
		c.Pending.Clear(ctx)
		entry.Outcome, entry.Delivered = status, true
	} else {
		log.Warn("Resend failed; keeping checkpoint.")
		entry.Outcome = journal.OutcomeKept
	}
	c.journal(ctx, entry)
}
