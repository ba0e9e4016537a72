package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chat-relay/internal/auth"
	"chat-relay/internal/config"
	"chat-relay/internal/db"
	"chat-relay/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "chat-relay",
		Short:         "Real-time message routing and presence for one-to-one chat",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML/JSON config file (optional)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP/WebSocket server",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, log, err := bootstrap(configPath)
				if err != nil {
					return err
				}
				defer log.Sync() //nolint:errcheck

				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				return serve(ctx, cfg, log)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, log, err := bootstrap(configPath)
				if err != nil {
					return err
				}
				defer log.Sync() //nolint:errcheck

				database, err := db.Connect(cmd.Context(), cfg.Database.DSN)
				if err != nil {
					return err
				}
				defer database.Close()
				return db.Migrate(cmd.Context(), database, log)
			},
		},
		newTokenCmd(&configPath),
	)
	return root
}

func newTokenCmd(configPath *string) *cobra.Command {
	var (
		userID string
		email  string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development credential for a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			secret, err := cfg.Secret()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}
			token, err := auth.NewIssuer(secret, ttl).Issue(userID, email)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id to embed in the token")
	cmd.Flags().StringVar(&email, "email", "", "Optional email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to auth.token_ttl)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func bootstrap(configPath string) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	log = log.With(zap.String("service", cfg.ServiceName), zap.String("environment", cfg.Environment))
	return cfg, log, nil
}
