// @title           propmarket billing API
// @version         1.0
// @description     Заказы, верификация оплаты, подписки и аддоны (документация Swagger).
// @contact.name    PropMarket
// @contact.email   support@propmarket.local
// @license.name    MIT
// @license.url     https://opensource.org/licenses/MIT
// @host            localhost:8080
// @BasePath        /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "propmarket_backend/docs"

	"propmarket_backend/database"
	"propmarket_backend/internal/app"
	"propmarket_backend/internal/auth"
	"propmarket_backend/internal/config"
	"propmarket_backend/internal/logger"
	"propmarket_backend/internal/models"
	"propmarket_backend/internal/repositories"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "propmarket",
		Short:         "PropMarket billing: payment orders and subscriptions",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default $CONFIG_PATH or config/config.yaml)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.InitWithWriter(cfg.Server.Env, cfg.Server.LogLevel, os.Stdout)
	logger.Info("Logger initialized", "env", cfg.Server.Env)
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the expired-order sweeper",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Serve(ctx)
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Cancel expired pending orders once and exit",
		Long: `Runs one sweeper pass under the same lock as the background worker,
so it is safe to call from cron while replicas are running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			defer a.Services.PaymentService.Wait()

			res, ran, err := a.Sweeper.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			if !ran {
				fmt.Fprintln(cmd.OutOrStdout(), "another sweeper holds the lock, nothing done")
				return nil
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(res)
		},
	}
}

func migrateCmd() *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create tables and indexes (postgres)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Database.Driver != "postgres" {
				return fmt.Errorf("migrate needs the postgres driver, got %q", cfg.Database.Driver)
			}

			db, err := database.Connect(cfg)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}

			if err := database.AutoMigrate(db); err != nil {
				return err
			}
			if seed {
				return database.SeedCatalog(cmd.Context(), repositories.NewGormStore(db), cfg.Payments.Currency)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "seed default plans and addons when the catalog is empty")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		userID string
		role   string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a JWT for ops and manual testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			r := models.UserRole(role)
			if _, ok := auth.Permissions[r]; !ok {
				return fmt.Errorf("unknown role %q", role)
			}

			tokens := auth.NewTokenManager(cfg.JWT.Secret, cfg.TokenTTL())
			token, err := tokens.Generate(userID, r)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "subject user id")
	cmd.Flags().StringVar(&role, "role", string(models.UserRoleAdmin), "user | admin | superadmin")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}
