package accounts

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Service is the session service: account reads from the directory and the
// login flow through the functions client.
type Service struct {
	dir  *Directory
	fns  *FunctionsClient
	pace time.Duration
	log  *zap.Logger
}

// NewService combines a directory and a functions client. pace is the
// minimum gap between login polls.
func NewService(dir *Directory, fns *FunctionsClient, pace time.Duration, logger *zap.Logger) *Service {
	return &Service{dir: dir, fns: fns, pace: pace, log: logger.Named("accounts")}
}

// ListAccounts lists the channel's accounts.
func (s *Service) ListAccounts(ctx context.Context, channelID string) []Account {
	return s.dir.ListAccounts(ctx, channelID)
}

// LoginStatus reports the account's latest login state.
func (s *Service) LoginStatus(ctx context.Context, channelID, accountID string) LoginStatus {
	return s.dir.LoginStatus(ctx, channelID, accountID)
}

// StartLogin opens a QR login session, or returns nil.
func (s *Service) StartLogin(ctx context.Context, channelID, accountID string) *Session {
	return s.fns.StartSession(ctx, channelID, accountID)
}

// PollLogin reports a login session's state.
func (s *Service) PollLogin(ctx context.Context, token string) SessionStatus {
	return s.fns.PollSession(ctx, token)
}

// WaitForLogin polls the session until it reaches a terminal status or ctx
// ends. onUpdate, if not nil, sees every poll result. The last status seen
// is returned together with ctx's error when polling was cut short.
func (s *Service) WaitForLogin(ctx context.Context, token string, onUpdate func(SessionStatus)) (SessionStatus, error) {
	limiter := rate.NewLimiter(rate.Every(s.pace), 1)
	last := SessionStatus{Status: StatusPending}
	for {
		if err := limiter.Wait(ctx); err != nil {
			return last, err
		}
		st := s.fns.PollSession(ctx, token)
		if ctx.Err() != nil {
			return last, ctx.Err()
		}
		if onUpdate != nil {
			onUpdate(st)
		}
		if st.Status != last.Status {
			s.log.Info("Login session status changed.", zap.String("status", st.Status))
		}
		last = st
		if Terminal(st.Status) {
			return st, nil
		}
	}
}
