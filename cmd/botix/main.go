package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/botixhq/botix/internal/auth"
	"github.com/botixhq/botix/internal/config"
	"github.com/botixhq/botix/internal/db"
	"github.com/botixhq/botix/internal/logger"
	"github.com/botixhq/botix/migrations"
)

var rootCmd = &cobra.Command{
	Use:   "botix",
	Short: "Conversation routing and automation server",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and message pipeline",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger.Init(cfg.Log.Level, cfg.Log.Format)

		ctx := context.Background()
		pool, err := db.Open(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		defer pool.Close()
		return db.ApplyMigrations(ctx, pool, migrations.Files)
	},
}

// There is no login endpoint; operators mint agent tokens out of band and
// hand them to clients.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a signed API token for a tenant user",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		userID, _ := cmd.Flags().GetString("user")
		tenantID, _ := cmd.Flags().GetString("tenant")
		role, _ := cmd.Flags().GetString("role")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		token, expiresAt, err := auth.GenerateToken(userID, tenantID, role, cfg.Auth.JWTSecret, ttl)
		if err != nil {
			return err
		}
		fmt.Printf("%s\nexpires %s\n", token, expiresAt.Format(time.RFC3339))
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("user", "", "user id the token authenticates")
	tokenCmd.Flags().String("tenant", "", "tenant the user belongs to")
	tokenCmd.Flags().String("role", "agent", "role claim: agent or admin")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	rootCmd.AddCommand(serveCmd, migrateCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
