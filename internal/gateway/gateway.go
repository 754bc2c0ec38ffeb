// Package gateway validates inbound cross-window messages, answers
// handshakes, hands admissible tasks to the coordinator and posts results
// back to the task's sender.
package gateway

import (
	"context"

	"github.com/xkilldash9x/quill/internal/metrics"
	"github.com/xkilldash9x/quill/internal/page"
	"github.com/xkilldash9x/quill/internal/protocol"
	"go.uber.org/zap"
)

// Drop reasons reported for tasks that are not admitted.
const (
	DropOrigin   = "origin"
	DropBusy     = "busy"
	DropPlatform = "platform"
	DropTaskID   = "task_id"
)

// Admitter owns the single in-flight task.
type Admitter interface {
	Busy() bool
	// SetDefaultTarget records where results go when a task names no window.
	SetDefaultTarget(t protocol.Target)
	// Admit starts task unless one is already running.
	Admit(task protocol.Task) bool
}

// Gateway routes inbound messages.
type Gateway struct {
	d        *Dispatcher
	proto    *protocol.Protocol
	admitter Admitter
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// New creates a Gateway that replies through d and admits through a.
func New(d *Dispatcher, a Admitter, m *metrics.Metrics, logger *zap.Logger) *Gateway {
	return &Gateway{d: d, proto: d.proto, admitter: a, metrics: m, log: logger.Named("gateway")}
}

// Handle processes one inbound message event. It blocks for the duration of
// any reply post but never for a task pipeline.
func (g *Gateway) Handle(ctx context.Context, in page.Inbound) {
	msg := g.proto.Decode(in.Data)
	switch msg.Kind {
	case protocol.KindHandshake:
		g.handshake(ctx, in)
	case protocol.KindTask:
		g.intake(ctx, in, msg.Task)
	default:
		g.log.Debug("Ignoring unrecognised message.", zap.String("origin", in.Origin))
	}
}

func (g *Gateway) handshake(ctx context.Context, in page.Inbound) {
	if !g.proto.Allowed(in.Origin, true) {
		g.log.Warn("Ignoring handshake from origin outside the allow-list.", zap.String("origin", in.Origin))
		g.metrics.Handshake(false)
		return
	}
	g.metrics.Handshake(true)
	target := g.d.replyReady(ctx, in.Source, in.Origin)
	g.admitter.SetDefaultTarget(target)
}

func (g *Gateway) intake(ctx context.Context, in page.Inbound, task protocol.Task) {
	log := g.log.With(zap.String("origin", in.Origin), zap.String("task_id", task.ID))
	switch {
	case !g.proto.Allowed(in.Origin, false):
		log.Warn("Ignoring task from origin outside the allow-list.")
		g.metrics.TaskDropped(DropOrigin)
		return
	case g.admitter.Busy():
		log.Info("Task already in progress; dropping duplicate.")
		g.metrics.TaskDropped(DropBusy)
		return
	case task.Platform != g.proto.Platform():
		log.Warn("Ignoring task for another platform.", zap.String("platform", task.Platform))
		g.metrics.TaskDropped(DropPlatform)
		return
	case task.ID == "":
		log.Warn("Ignoring task without a task id.")
		g.metrics.TaskDropped(DropTaskID)
		return
	}

	task.Reply = protocol.Target{Window: in.Source, Origin: protocol.ReplyOrigin(in.Origin)}
	if task.Reply.Window == "" {
		if has, err := g.d.out.HasOpener(ctx); err == nil && has {
			task.Reply.Window = page.Opener
		}
	}
	if !g.admitter.Admit(task) {
		log.Info("Task already in progress; dropping duplicate.")
		g.metrics.TaskDropped(DropBusy)
		return
	}
	log.Info("Task admitted.", zap.Bool("auto_publish", task.AutoPublish))
}
