package accounts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// Session is a freshly started QR login session.
type Session struct {
	SessionToken string `json:"sessionToken"`
	QRCodeURL    string `json:"qrCodeUrl"`
	ExpiresAt    string `json:"expiresAt"`
	AccountID    string `json:"accountId"`
}

// SessionStatus is one poll of a login session.
type SessionStatus struct {
	Status       string `json:"status"`
	AccountID    string `json:"accountId,omitempty"`
	ProfileName  string `json:"profileName,omitempty"`
	QRCodeURL    string `json:"qrCodeUrl,omitempty"`
	SessionToken string `json:"sessionToken,omitempty"`
}

const (
	fnSessionStart  = "channel-session-start"
	fnSessionStatus = "channel-session-status"
)

// FunctionsClient invokes the backend's HTTP functions.
type FunctionsClient struct {
	baseURL string
	anonKey string
	http    *http.Client
	log     *zap.Logger
}

// NewFunctionsClient creates a client for the functions under baseURL.
func NewFunctionsClient(baseURL, anonKey string, timeout time.Duration, logger *zap.Logger) *FunctionsClient {
	c := &FunctionsClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		http:    &http.Client{Timeout: timeout},
		log:     logger.Named("functions"),
	}
	c.inspectKey()
	return c
}

// keyClaims is what the client cares about in the anon key.
type keyClaims struct {
	Role string
	Exp  time.Time
}

// parseKeyClaims reads the anon key's claims without verifying its
// signature; the key is a public credential the backend validates.
func parseKeyClaims(key string) (keyClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(key, claims); err != nil {
		return keyClaims{}, err
	}
	var kc keyClaims
	kc.Role, _ = claims["role"].(string)
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		kc.Exp = exp.Time
	}
	return kc, nil
}

func (c *FunctionsClient) inspectKey() {
	if c.anonKey == "" {
		c.log.Warn("No anon key configured; function calls will be rejected.")
		return
	}
	kc, err := parseKeyClaims(c.anonKey)
	if err != nil {
		c.log.Warn("Anon key is not a JWT.", zap.Error(err))
		return
	}
	if kc.Role == "service_role" {
		c.log.Warn("Configured key carries the service role; use the public anon key instead.")
	}
	if !kc.Exp.IsZero() && kc.Exp.Before(time.Now()) {
		c.log.Warn("Anon key has expired.", zap.Time("expired_at", kc.Exp))
	}
}

func (c *FunctionsClient) invoke(ctx context.Context, name string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+name, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.anonKey)
	req.Header.Set("apikey", c.anonKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s returned %d: %s", name, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", name, err)
	}
	return nil
}

// StartSession opens a QR login session for the account. It returns nil
// when the backend cannot be reached or refuses.
func (c *FunctionsClient) StartSession(ctx context.Context, channelID, accountID string) *Session {
	var s Session
	body := map[string]string{"channelId": channelID, "accountId": accountID}
	if err := c.invoke(ctx, fnSessionStart, body, &s); err != nil {
		c.log.Error("Failed to start login session.", zap.String("account", accountID), zap.Error(err))
		return nil
	}
	return &s
}

// PollSession reports the state of a login session. Failures read as expired.
func (c *FunctionsClient) PollSession(ctx context.Context, token string) SessionStatus {
	var st SessionStatus
	if err := c.invoke(ctx, fnSessionStatus, map[string]string{"sessionToken": token}, &st); err != nil {
		c.log.Error("Failed to poll login session.", zap.Error(err))
		return SessionStatus{Status: StatusExpired}
	}
	return st
}
