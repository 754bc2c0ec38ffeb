// Package accounts is the client side of the backend that owns channel
// accounts and their login sessions. Reads go straight to Postgres; login
// sessions are driven through the backend's HTTP functions.
//
// Every operation degrades instead of failing: an unreachable backend looks
// like an empty account list or an expired session.
package accounts

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Login statuses reported by the backend.
const (
	StatusPending = "pending"
	StatusScanned = "scanned"
	StatusSuccess = "success"
	StatusExpired = "expired"
	StatusFailed  = "failed"
)

// Terminal reports whether a login status ends polling.
func Terminal(status string) bool {
	switch status {
	case StatusSuccess, StatusExpired, StatusFailed:
		return true
	}
	return false
}

// DBPool is the subset of pgxpool.Pool the directory uses, so it can be mocked.
type DBPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Account is one publishing identity on a channel.
type Account struct {
	AccountID   string `json:"account_id"`
	AccountName string `json:"account_name"`
}

// LoginStatus is the latest known login state of an account.
type LoginStatus struct {
	Status      string `json:"status"`
	AccountID   string `json:"accountId,omitempty"`
	ProfileName string `json:"profileName,omitempty"`
}

const (
	listAccountsSQL = `
        SELECT account_id, account_name
        FROM channel_accounts
        WHERE channel_id = $1
        ORDER BY account_name ASC`

	loginStatusSQL = `
        SELECT COALESCE(login_status, ''), COALESCE(profile_name, ''), account_id
        FROM channel_sessions
        WHERE channel_id = $1 AND account_id = $2
        ORDER BY updated_at DESC
        LIMIT 1`
)

// Directory reads accounts and sessions from the backend database.
type Directory struct {
	pool DBPool
	log  *zap.Logger
}

// NewDirectory creates a Directory over pool.
func NewDirectory(pool DBPool, logger *zap.Logger) *Directory {
	return &Directory{pool: pool, log: logger.Named("directory")}
}

// ListAccounts returns the channel's accounts ordered by name, or an empty
// list when the query fails.
func (d *Directory) ListAccounts(ctx context.Context, channelID string) []Account {
	accounts := []Account{}
	rows, err := d.pool.Query(ctx, listAccountsSQL, channelID)
	if err != nil {
		d.log.Error("Failed to list channel accounts.", zap.String("channel", channelID), zap.Error(err))
		return accounts
	}
	defer rows.Close()

	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.AccountID, &a.AccountName); err != nil {
			d.log.Error("Failed to scan channel account.", zap.String("channel", channelID), zap.Error(err))
			return []Account{}
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		d.log.Error("Failed to list channel accounts.", zap.String("channel", channelID), zap.Error(err))
		return []Account{}
	}
	return accounts
}

// LoginStatus returns the most recently updated session of the account.
// A missing row, a failed query or an empty status all read as expired.
func (d *Directory) LoginStatus(ctx context.Context, channelID, accountID string) LoginStatus {
	var st LoginStatus
	err := d.pool.QueryRow(ctx, loginStatusSQL, channelID, accountID).Scan(&st.Status, &st.ProfileName, &st.AccountID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			d.log.Error("Failed to query login status.",
				zap.String("channel", channelID), zap.String("account", accountID), zap.Error(err))
		}
		return LoginStatus{Status: StatusExpired}
	}
	if st.Status == "" {
		st.Status = StatusExpired
	}
	return st
}
