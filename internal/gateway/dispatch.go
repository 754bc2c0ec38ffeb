package gateway

import (
	"context"
	"errors"

	"github.com/xkilldash9x/quill/internal/metrics"
	"github.com/xkilldash9x/quill/internal/page"
	"github.com/xkilldash9x/quill/internal/protocol"
	"go.uber.org/zap"
)

// Outbound is the slice of page.Page the dispatcher posts through.
type Outbound interface {
	page.Messenger
	HasOpener(ctx context.Context) (bool, error)
}

// Dispatcher posts protocol messages to other windows.
type Dispatcher struct {
	out     Outbound
	proto   *protocol.Protocol
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewDispatcher creates a Dispatcher. m may be nil.
func NewDispatcher(out Outbound, proto *protocol.Protocol, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{out: out, proto: proto, metrics: m, log: logger.Named("dispatch")}
}

// SendResult posts res to the target window, or to the opener, or to the
// document's own window when no target was recorded. The specific origin is
// tried before the wildcard; the first successful post wins. Failure to
// deliver is logged, never returned.
func (d *Dispatcher) SendResult(ctx context.Context, t protocol.Target, res protocol.Result) bool {
	win := t.Window
	if win == "" {
		win = d.fallbackWindow(ctx)
	}
	return d.deliver(ctx, metrics.DeliveryResult, win, t.Origin, res)
}

// Resend posts res to the opener, trying origin before the wildcard.
func (d *Dispatcher) Resend(ctx context.Context, origin string, res protocol.Result) bool {
	return d.deliver(ctx, metrics.DeliveryResume, page.Opener, origin, res)
}

// AnnounceReady tells the opener, if any, that the agent is present.
func (d *Dispatcher) AnnounceReady(ctx context.Context) {
	has, err := d.out.HasOpener(ctx)
	if err != nil || !has {
		d.log.Debug("No opener to announce readiness to.", zap.Error(err))
		return
	}
	err = d.out.PostMessage(ctx, page.Opener, d.proto.Ready(), protocol.Wildcard)
	d.metrics.Delivery(metrics.DeliveryReady, err == nil)
	if err != nil {
		d.log.Debug("Startup handshake failed.", zap.Error(err))
		return
	}
	d.log.Info("Announced readiness to opener.")
}

// replyReady answers a handshake and returns the target later results
// should default to.
func (d *Dispatcher) replyReady(ctx context.Context, source page.WindowRef, origin string) protocol.Target {
	target := protocol.Target{Window: source, Origin: protocol.ReplyOrigin(origin)}
	if target.Window == "" {
		target.Window = d.fallbackWindow(ctx)
	}
	err := d.out.PostMessage(ctx, target.Window, d.proto.Ready(), target.Origin)
	d.metrics.Delivery(metrics.DeliveryReady, err == nil)
	if err != nil {
		d.log.Warn("Failed to answer handshake.", zap.String("window", string(target.Window)), zap.Error(err))
		return protocol.Target{Window: page.Self, Origin: protocol.Wildcard}
	}
	d.log.Info("Answered handshake.", zap.String("window", string(target.Window)), zap.String("origin", target.Origin))
	return target
}

func (d *Dispatcher) fallbackWindow(ctx context.Context) page.WindowRef {
	if has, err := d.out.HasOpener(ctx); err == nil && has {
		return page.Opener
	}
	return page.Self
}

func (d *Dispatcher) deliver(ctx context.Context, kind string, win page.WindowRef, origin string, msg any) bool {
	candidates := []string{protocol.Wildcard}
	if origin != "" && origin != protocol.Wildcard {
		candidates = []string{origin, protocol.Wildcard}
	}
	log := d.log.With(zap.String("kind", kind), zap.String("window", string(win)))
	for _, o := range candidates {
		err := d.out.PostMessage(ctx, win, msg, o)
		if err == nil {
			log.Info("Message delivered.", zap.String("origin", o))
			d.metrics.Delivery(kind, true)
			return true
		}
		log.Warn("Post failed.", zap.String("origin", o), zap.Error(err))
		if ctx.Err() != nil || errors.Is(err, page.ErrPageGone) {
			break
		}
	}
	log.Error("All delivery attempts failed.")
	d.metrics.Delivery(kind, false)
	return false
}
