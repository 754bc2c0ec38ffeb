package fill

import (
	"context"
	"errors"

	"github.com/xkilldash9x/quill/internal/lookup"
	"go.uber.org/zap"
)

// PublishButtonNotFoundError is returned when auto-publish was requested but
// no submit control could be found.
type PublishButtonNotFoundError struct{}

func (PublishButtonNotFoundError) Error() string { return "publish button not found" }

// Publisher clicks the editor's submit control.
type Publisher struct {
	Deps
	logger *zap.Logger
}

func NewPublisher(d Deps) *Publisher {
	return &Publisher{Deps: d, logger: d.Logger.Named("publish")}
}

// Trigger is a no-op unless auto is set. Otherwise it waits for paste side
// effects, scrolls the submit area into view and clicks the control.
func (p *Publisher) Trigger(ctx context.Context, auto bool) error {
	if !auto {
		return nil
	}
	if err := p.Sleeper.Sleep(ctx, p.Timing.PublishLead); err != nil {
		return err
	}
	if err := p.Page.ScrollBy(ctx, 0, p.Timing.PublishScroll); err != nil {
		return err
	}
	if err := p.Sleeper.Sleep(ctx, p.Timing.PublishScrollGap); err != nil {
		return err
	}

	btn, err := p.Lookup.Submit(ctx)
	if err != nil {
		var nf *lookup.ElementNotFoundError
		if errors.As(err, &nf) {
			return &PublishButtonNotFoundError{}
		}
		return err
	}
	p.logger.Info("Clicking submit control.", zap.String("label", btn.Label))
	if err := p.Page.Click(ctx, btn.Handle); err != nil {
		return err
	}
	return p.Sleeper.Sleep(ctx, p.Timing.PublishSettle)
}
