package accounts

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newMockDirectory(t *testing.T) (*Directory, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewDirectory(mock, zaptest.NewLogger(t)), mock
}

func TestListAccounts(t *testing.T) {
	ctx := context.Background()

	t.Run("returns rows in query order", func(t *testing.T) {
		dir, mock := newMockDirectory(t)
		mock.ExpectQuery("FROM channel_accounts").
			WithArgs("zhihu").
			WillReturnRows(pgxmock.NewRows([]string{"account_id", "account_name"}).
				AddRow("a2", "Alpha").
				AddRow("a1", "Beta"))

		got := dir.ListAccounts(ctx, "zhihu")
		assert.Equal(t, []Account{{AccountID: "a2", AccountName: "Alpha"}, {AccountID: "a1", AccountName: "Beta"}}, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query failure yields an empty list", func(t *testing.T) {
		dir, mock := newMockDirectory(t)
		mock.ExpectQuery("FROM channel_accounts").
			WithArgs("zhihu").
			WillReturnError(errors.New("connection refused"))

		got := dir.ListAccounts(ctx, "zhihu")
		assert.NotNil(t, got)
		assert.Empty(t, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no accounts is an empty list", func(t *testing.T) {
		dir, mock := newMockDirectory(t)
		mock.ExpectQuery("FROM channel_accounts").
			WithArgs("toutiao").
			WillReturnRows(pgxmock.NewRows([]string{"account_id", "account_name"}))

		got := dir.ListAccounts(ctx, "toutiao")
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})
}

func TestLoginStatus(t *testing.T) {
	ctx := context.Background()
	cols := []string{"login_status", "profile_name", "account_id"}

	t.Run("latest session", func(t *testing.T) {
		dir, mock := newMockDirectory(t)
		mock.ExpectQuery("FROM channel_sessions").
			WithArgs("zhihu", "a1").
			WillReturnRows(pgxmock.NewRows(cols).AddRow("success", "Writer", "a1"))

		assert.Equal(t, LoginStatus{Status: StatusSuccess, AccountID: "a1", ProfileName: "Writer"}, dir.LoginStatus(ctx, "zhihu", "a1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty status reads as expired", func(t *testing.T) {
		dir, mock := newMockDirectory(t)
		mock.ExpectQuery("FROM channel_sessions").
			WithArgs("zhihu", "a1").
			WillReturnRows(pgxmock.NewRows(cols).AddRow("", "", "a1"))

		assert.Equal(t, StatusExpired, dir.LoginStatus(ctx, "zhihu", "a1").Status)
	})

	t.Run("no session", func(t *testing.T) {
		dir, mock := newMockDirectory(t)
		mock.ExpectQuery("FROM channel_sessions").
			WithArgs("zhihu", "a9").
			WillReturnRows(pgxmock.NewRows(cols))

		assert.Equal(t, LoginStatus{Status: StatusExpired}, dir.LoginStatus(ctx, "zhihu", "a9"))
	})

	t.Run("query failure", func(t *testing.T) {
		dir, mock := newMockDirectory(t)
		mock.ExpectQuery("FROM channel_sessions").
			WithArgs("zhihu", "a1").
			WillReturnError(errors.New("timeout"))

		assert.Equal(t, LoginStatus{Status: StatusExpired}, dir.LoginStatus(ctx, "zhihu", "a1"))
	})
}

func TestTerminal(t *testing.T) {
	for _, s := range []string{StatusSuccess, StatusExpired, StatusFailed} {
		assert.True(t, Terminal(s), s)
	}
	for _, s := range []string{StatusPending, StatusScanned, ""} {
		assert.False(t, Terminal(s), s)
	}
}
