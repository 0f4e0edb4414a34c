package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/npezzotti/go-chatsync/internal/config"
	"github.com/npezzotti/go-chatsync/internal/database"
	"github.com/npezzotti/go-chatsync/internal/identity"
	"github.com/spf13/cobra"
)

type AddUserOptions struct {
	*RootOptions
	DSN         string
	Email       string
	DisplayName string
	AvatarUrl   string
	Password    string
}

func NewAddUserCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AddUserOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "adduser",
		Short: "Create an account directly in the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := runAddUser(cmd.Context(), opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.DSN, "dsn", config.Env("GOCHAT_DATABASE_DSN", "gochat.db"), "database connection string")
	cmd.Flags().StringVar(&opts.Email, "email", "", "account email (required)")
	cmd.Flags().StringVar(&opts.DisplayName, "display-name", "", "name shown to other users (required)")
	cmd.Flags().StringVar(&opts.AvatarUrl, "avatar-url", "", "avatar image url")
	cmd.Flags().StringVar(&opts.Password, "password", "", "account password (required)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("display-name")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

func runAddUser(ctx context.Context, opts *AddUserOptions) (string, error) {
	displayName := strings.TrimSpace(opts.DisplayName)
	if displayName == "" {
		return "", fmt.Errorf("display name cannot be empty")
	}

	db, err := openRepository(ctx, &config.Config{DatabaseDSN: opts.DSN})
	if err != nil {
		return "", err
	}
	defer db.Close()

	hash, err := identity.HashPassword(opts.Password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	account, err := db.CreateAccount(ctx, database.CreateAccountParams{
		Email:        opts.Email,
		DisplayName:  displayName,
		AvatarUrl:    opts.AvatarUrl,
		PasswordHash: hash,
	})
	if err != nil {
		return "", fmt.Errorf("create account: %w", err)
	}

	return account.Id, nil
}
