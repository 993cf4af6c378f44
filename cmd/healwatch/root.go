package main

import (
	"log/slog"
	"os"

	"github.com/ashureev/healdash/internal/config"
	"github.com/ashureev/healdash/internal/console"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Shared dependencies, initialized in cobra.OnInitialize.
var (
	ui     *console.UI
	cfg    *config.Config
	logger *slog.Logger

	verbose bool
	apiURL  string
	dbPath  string
)

var rootCmd = &cobra.Command{
	Use:   "healwatch",
	Short: "Follow code-healing runs from the terminal",
	Long: `healwatch starts a run on the code-healing backend and streams its
progress: pipeline stages, logs, applied fixes and the final score.
It also lists past runs recorded locally or on the backend.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err == nil {
			slog.Debug("Loaded .env")
		}

		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		// Flags override the environment before validation.
		if apiURL != "" {
			_ = os.Setenv("API_URL", apiURL)
		}
		if dbPath != "" {
			_ = os.Setenv("DB_PATH", dbPath)
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}

		ui = console.New()
		ui.Verbose = verbose
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output, including code diffs")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "Backend base URL (default $API_URL)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Local run history database (default $DB_PATH)")
}
