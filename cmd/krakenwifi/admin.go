package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/ZerkerEOD/krakenwifi/internal/config"
	"github.com/ZerkerEOD/krakenwifi/internal/database"
	"github.com/ZerkerEOD/krakenwifi/internal/models"
	"github.com/ZerkerEOD/krakenwifi/pkg/console"
	"github.com/ZerkerEOD/krakenwifi/pkg/httputil"
	"github.com/ZerkerEOD/krakenwifi/pkg/jwt"
)

var (
	flagTokenSubject string
	flagTokenRole    string
	flagTokenTTL     time.Duration
)

func init() {
	tokenCmd.Flags().StringVar(&flagTokenSubject, "subject", "operator", "token subject")
	tokenCmd.Flags().StringVar(&flagTokenRole, "role", "admin", "token role claim")
	tokenCmd.Flags().DurationVar(&flagTokenTTL, "ttl", 0, "token lifetime (default KW_TOKEN_TTL)")
}

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down]",
	Short:     "Apply or revert the PostgreSQL schema",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{string(database.Up), string(database.Down)},
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Store != config.StorePostgres {
			return errors.New("migrations need the postgres store (set DB_HOST or KW_STORE=postgres)")
		}
		direction := database.Up
		if len(args) == 1 {
			direction = database.Direction(args[0])
		}
		if err := database.RunMigrations(cfg.Database, cfg.MigrationsDir, direction); err != nil {
			return err
		}
		console.Success("Migrations %s complete", direction)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the control API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.JWTSecret == "" {
			return errors.New("KW_JWT_SECRET is not set")
		}
		ttl := flagTokenTTL
		if ttl == 0 {
			ttl = cfg.TokenTTL
		}
		token, err := jwt.NewSigner(cfg.JWTSecret).GenerateToken(flagTokenSubject, flagTokenRole, ttl)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the state and progress of a job on the running server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet,
			cfg.GetAPIEndpoint()+"/jobs/"+url.PathEscape(args[0]), nil)
		if err != nil {
			return err
		}
		if cfg.JWTSecret != "" {
			token, err := jwt.NewSigner(cfg.JWTSecret).GenerateToken("cli", "admin", time.Minute)
			if err != nil {
				return err
			}
			req.Header.Set("Authorization", "Bearer "+token)
		}

		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to reach %s: %w", cfg.GetAPIEndpoint(), err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			var apiErr httputil.ErrorResponse
			if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
				return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
			}
			return errors.New(resp.Status)
		}

		var job models.Job
		if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
			return fmt.Errorf("failed to decode job: %w", err)
		}
		console.Print("%s", console.FormatJobProgress(&job))
		if job.LastError != "" {
			console.Warning("%s", job.LastError)
		}
		if job.Warning != "" {
			console.Warning("%s", job.Warning)
		}
		return nil
	},
}
