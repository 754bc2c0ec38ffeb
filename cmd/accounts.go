package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/xkilldash9x/quill/internal/accounts"
	"github.com/xkilldash9x/quill/internal/config"
	"github.com/xkilldash9x/quill/internal/observability"
)

func newAccountsCmd() *cobra.Command {
	var channel string
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Inspect channel accounts and drive QR logins",
	}
	cmd.PersistentFlags().StringVar(&channel, "channel", "", "Channel id. (Defaults to accounts.channel_id)")

	channelOf := func(cfg config.Interface) string {
		if channel != "" {
			return channel
		}
		return cfg.Accounts().ChannelID
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the channel's accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccountService(cmd.Context(), true, func(cfg config.Interface, svc *accounts.Service) error {
				return printJSON(cmd.OutOrStdout(), svc.ListAccounts(cmd.Context(), channelOf(cfg)))
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status <account-id>",
		Short: "Show the latest login status of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccountService(cmd.Context(), true, func(cfg config.Interface, svc *accounts.Service) error {
				return printJSON(cmd.OutOrStdout(), svc.LoginStatus(cmd.Context(), channelOf(cfg), args[0]))
			})
		},
	})

	var wait bool
	login := &cobra.Command{
		Use:   "login <account-id>",
		Short: "Start a QR login session for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccountService(cmd.Context(), false, func(cfg config.Interface, svc *accounts.Service) error {
				ctx := cmd.Context()
				session := svc.StartLogin(ctx, channelOf(cfg), args[0])
				if session == nil {
					return fmt.Errorf("login session for %s could not be started", args[0])
				}
				if err := printJSON(cmd.OutOrStdout(), session); err != nil {
					return err
				}
				if !wait {
					return nil
				}
				final, err := svc.WaitForLogin(ctx, session.SessionToken, func(st accounts.SessionStatus) {
					cmd.PrintErrf("status: %s\n", st.Status)
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), final)
			})
		},
	}
	login.Flags().BoolVar(&wait, "wait", false, "Poll until the login succeeds, fails or expires.")
	cmd.AddCommand(login)

	return cmd
}

// withAccountService builds the session service for one command. The
// database pool is only opened when needDB is set.
func withAccountService(ctx context.Context, needDB bool, fn func(config.Interface, *accounts.Service) error) error {
	cfg, err := configFrom(ctx)
	if err != nil {
		return err
	}
	logger := observability.GetLogger()
	ac := cfg.Accounts()

	var dir *accounts.Directory
	if needDB {
		if ac.DatabaseURL == "" {
			return fmt.Errorf("database URL is not configured (hint: check QUILL_DATABASE_URL)")
		}
		pool, err := pgxpool.New(ctx, ac.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to create database connection pool: %w", err)
		}
		defer pool.Close()
		dir = accounts.NewDirectory(pool, logger)
	}

	var fns *accounts.FunctionsClient
	if !needDB {
		if ac.FunctionsURL == "" {
			return fmt.Errorf("functions URL is not configured (hint: set accounts.functions_url)")
		}
		fns = accounts.NewFunctionsClient(ac.FunctionsURL, ac.AnonKey, ac.RequestTimeout, logger)
	}

	return fn(cfg, accounts.NewService(dir, fns, ac.PollInterval, logger))
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
