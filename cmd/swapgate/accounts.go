package main

import (
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rsclarke/swapgate/internal/models"
	"github.com/rsclarke/swapgate/internal/redact"
	"github.com/rsclarke/swapgate/internal/rotation"
)

var addFlags struct {
	id           string
	token        string
	refreshToken string
	expires      string
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage the credentials in the rotation store",
}

var accountsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a credential",
	Long: `Add a credential to the rotation store. The token is stored as given and
never printed again; list shows short identifiers only.

--expires accepts an RFC 3339 timestamp or Unix seconds.`,
	Args: cobra.NoArgs,
	RunE: runAccountsAdd,
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List credentials",
	Args:  cobra.NoArgs,
	RunE:  runAccountsList,
}

var accountsResetCmd = &cobra.Command{
	Use:   "reset <id>",
	Short: "Return an exhausted credential to the pool",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountsReset,
}

var accountsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Delete a credential",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountsRemove,
}

func init() {
	rootCmd.AddCommand(accountsCmd)
	accountsCmd.AddCommand(accountsAddCmd, accountsListCmd, accountsResetCmd, accountsRemoveCmd)

	accountsAddCmd.Flags().StringVar(&addFlags.id, "id", "", "account identifier (generated when empty)")
	accountsAddCmd.Flags().StringVar(&addFlags.token, "token", "", "bearer token")
	accountsAddCmd.Flags().StringVar(&addFlags.refreshToken, "refresh-token", "", "optional refresh token")
	accountsAddCmd.Flags().StringVar(&addFlags.expires, "expires", "", "token expiry")
	_ = accountsAddCmd.MarkFlagRequired("token")
}

func withStore(fn func(store *rotation.SQLiteStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	return fn(store)
}

func parseExpiry(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &n, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid --expires %q: want RFC 3339 or Unix seconds", s)
	}
	n := t.Unix()
	return &n, nil
}

func runAccountsAdd(cmd *cobra.Command, args []string) error {
	expires, err := parseExpiry(addFlags.expires)
	if err != nil {
		return err
	}
	c := &models.Credential{
		ID:        addFlags.id,
		AccountID: addFlags.id,
		Token:     addFlags.token,
		ExpiresAt: expires,
	}
	if addFlags.refreshToken != "" {
		c.RefreshToken = &addFlags.refreshToken
	}

	return withStore(func(store *rotation.SQLiteStore) error {
		if err := store.AddCredential(cmd.Context(), c); err != nil {
			if errors.Is(err, rotation.ErrDuplicate) {
				return fmt.Errorf("token already stored: %w", err)
			}
			return err
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s)\n", redact.ShortID(c.ID), redact.TokenHint(c.Token))
		return err
	})
}

func runAccountsList(cmd *cobra.Command, args []string) error {
	return withStore(func(store *rotation.SQLiteStore) error {
		state, err := store.State(cmd.Context())
		if err != nil {
			return err
		}
		creds, err := store.List(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(creds) == 0 {
			_, err := fmt.Fprintln(out, "No credentials stored.")
			return err
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "\tID\tTOKEN\tSTATUS\tUSAGE\tEXPIRES")
		for _, c := range creds {
			marker := ""
			if c.ID == state.ActiveID {
				marker = "*"
			}
			usage := "-"
			if c.UsagePercent != nil {
				usage = fmt.Sprintf("%.0f%%", *c.UsagePercent)
			}
			expires := "-"
			if c.ExpiresAt != nil {
				expires = time.Unix(*c.ExpiresAt, 0).Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				marker, redact.ShortID(c.ID), redact.TokenHint(c.Token), c.Status, usage, expires)
		}
		return w.Flush()
	})
}

func runAccountsReset(cmd *cobra.Command, args []string) error {
	return withStore(func(store *rotation.SQLiteStore) error {
		if err := store.ResetCredential(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("reset %s: %w", args[0], err)
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "Reset %s\n", redact.ShortID(args[0]))
		return err
	})
}

func runAccountsRemove(cmd *cobra.Command, args []string) error {
	return withStore(func(store *rotation.SQLiteStore) error {
		if err := store.RemoveCredential(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("remove %s: %w", args[0], err)
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", redact.ShortID(args[0]))
		return err
	})
}
