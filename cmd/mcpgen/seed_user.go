package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/app"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/auth"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/orchestration"
)

func newSeedUserCmd(cc *cliContext) *cobra.Command {
	var name, email, password string

	cmd := &cobra.Command{
		Use:   "seed-user",
		Short: "Create an API user in the configured database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := auth.ValidateNewUser(name, email, password); err != nil {
				return fmt.Errorf("validation error: %w", err)
			}
			if err := cc.load(); err != nil {
				return err
			}
			defer cc.logger.Sync()

			if cc.cfg.Database.URL == "" {
				return fmt.Errorf("database.url (or DATABASE_URL) is required")
			}
			ctx := cmd.Context()
			pool, err := app.ConnectDatabase(ctx, cc.cfg.Database, cc.logger)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := orchestration.Migrate(ctx, pool); err != nil {
				return err
			}

			userID, err := auth.NewPostgresUserRepository(pool).Create(ctx, name, email, password)
			if err != nil {
				return fmt.Errorf("failed to create user: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Successfully created user")
			fmt.Fprintf(out, "  ID: %s\n", userID)
			fmt.Fprintf(out, "  Name: %s\n", name)
			fmt.Fprintf(out, "  Email: %s\n", auth.NormalizeEmail(email))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "full name of the user (required)")
	cmd.Flags().StringVar(&email, "email", "", "email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "password (required, min 8 chars, letters and digits)")
	for _, f := range []string{"name", "email", "password"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}
