// Package agent runs the publishing engine against live documents. Every
// main-frame document gets its own Epoch: a fresh gateway, coordinator and
// fill engines bound to a context that ends when the document does.
package agent

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/xkilldash9x/quill/internal/config"
	"github.com/xkilldash9x/quill/internal/coordinator"
	"github.com/xkilldash9x/quill/internal/fill"
	"github.com/xkilldash9x/quill/internal/gateway"
	"github.com/xkilldash9x/quill/internal/journal"
	"github.com/xkilldash9x/quill/internal/lookup"
	"github.com/xkilldash9x/quill/internal/metrics"
	"github.com/xkilldash9x/quill/internal/page"
	"github.com/xkilldash9x/quill/internal/pending"
	"github.com/xkilldash9x/quill/internal/protocol"
	"go.uber.org/zap"
)

const inboxSize = 32

// Agent builds epochs from configuration.
type Agent struct {
	cfg     config.Interface
	metrics *metrics.Metrics
	journal journal.Recorder
	sleeper page.Sleeper
	logger  *zap.Logger
}

// New creates an Agent. m and j may be nil.
func New(cfg config.Interface, m *metrics.Metrics, j journal.Recorder, logger *zap.Logger) *Agent {
	return &Agent{cfg: cfg, metrics: m, journal: j, sleeper: page.RealSleeper{}, logger: logger.Named("agent")}
}

// Epoch is the engine's lifetime on one document.
type Epoch struct {
	ID string

	ctx     context.Context
	cancel  context.CancelFunc
	coord   *coordinator.Coordinator
	gateway *gateway.Gateway
	inbox   chan page.Inbound
	done    chan struct{}
	log     *zap.Logger

	closeOnce sync.Once
}

// Start begins an epoch on p. It resumes any checkpointed result, announces
// readiness to the opener and then serves inbound messages until ctx ends
// or Close is called.
func (a *Agent) Start(ctx context.Context, p page.Page) *Epoch {
	id := uuid.New().String()[:8]
	log := a.logger.With(zap.String("epoch", id))
	ectx, cancel := context.WithCancel(ctx)

	platform := a.cfg.Platform()
	timing := a.cfg.Timing()
	proto := protocol.New(a.cfg.Protocol(), platform.Name)

	look := lookup.New(p, lookup.TablesFromConfig(platform), a.sleeper, log)
	deps := fill.Deps{
		Page:     p,
		Lookup:   look,
		Sleeper:  a.sleeper,
		Timing:   timing,
		Observer: a.metrics,
		Logger:   log,
	}
	if a.metrics == nil {
		deps.Observer = nil
	}
	dispatcher := gateway.NewDispatcher(p, proto, a.metrics, log)
	coord := coordinator.New(ectx, coordinator.Deps{
		Page:      p,
		Lookup:    look,
		Title:     fill.NewTitleEngine(deps),
		Content:   fill.NewContentEngine(deps, platform.ImageHost),
		Publisher: fill.NewPublisher(deps),
		Pending:   pending.New(p, a.cfg.Protocol().StorageKey, log),
		Sender:    dispatcher,
		Protocol:  proto,
		Sleeper:   a.sleeper,
		Timing:    timing,
		Platform:  platform,
		Journal:   a.journal,
		Metrics:   a.metrics,
		Logger:    log,
	})

	e := &Epoch{
		ID:      id,
		ctx:     ectx,
		cancel:  cancel,
		coord:   coord,
		gateway: gateway.New(dispatcher, coord, a.metrics, log),
		inbox:   make(chan page.Inbound, inboxSize),
		done:    make(chan struct{}),
		log:     log,
	}
	go e.serve(dispatcher)
	log.Info("Epoch started.")
	return e
}

func (e *Epoch) serve(d *gateway.Dispatcher) {
	defer close(e.done)

	e.coord.Resume(e.ctx)
	d.AnnounceReady(e.ctx)

	for {
		select {
		case <-e.ctx.Done():
			return
		case in := <-e.inbox:
			e.gateway.Handle(e.ctx, in)
		}
	}
}

// Deliver queues an inbound message without blocking. Messages arriving
// while the inbox is full are dropped.
func (e *Epoch) Deliver(in page.Inbound) {
	select {
	case <-e.ctx.Done():
	case e.inbox <- in:
	default:
		e.log.Warn("Inbox full; dropping message.", zap.String("origin", in.Origin))
	}
}

// Busy reports whether the epoch has a task in flight.
func (e *Epoch) Busy() bool { return e.coord.Busy() }

// Close ends the epoch and waits for its goroutines.
func (e *Epoch) Close() {
	e.closeOnce.Do(func() {
		e.cancel()
		<-e.done
		e.coord.Wait()
		e.log.Info("Epoch closed.")
	})
}

// Done is closed once the epoch stops serving messages.
func (e *Epoch) Done() <-chan struct{} { return e.done }
