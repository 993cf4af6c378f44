package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ashureev/healdash/internal/backend"
	"github.com/ashureev/healdash/internal/console"
	"github.com/ashureev/healdash/internal/history"
	"github.com/ashureev/healdash/internal/live"
	"github.com/ashureev/healdash/internal/runner"
	"github.com/ashureev/healdash/internal/store"
	"github.com/ashureev/healdash/internal/transport"
	"github.com/spf13/cobra"
)

var (
	runParams runner.Params
	runRecord bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a healing run and stream its progress",
	Long: `Start a healing run for a repository and follow it until the final
result arrives. Ctrl-C stops watching; the run continues on the backend.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if runParams.AccessToken == "" {
			runParams.AccessToken = os.Getenv("GITHUB_TOKEN")
		}
		return runWatch(cmd.Context())
	},
}

func init() {
	runCmd.Flags().StringVar(&runParams.RepoURL, "repo", "", "Repository URL to heal")
	runCmd.Flags().StringVar(&runParams.TeamName, "team", "", "Team name used in the fix branch")
	runCmd.Flags().StringVar(&runParams.LeaderName, "leader", "", "Team leader name used in the fix branch")
	runCmd.Flags().StringVar(&runParams.AccessToken, "token", "", "Access token for private repositories (default $GITHUB_TOKEN)")
	runCmd.Flags().BoolVar(&runRecord, "record", true, "Record the finished run in the local history database")
	_ = runCmd.MarkFlagRequired("repo")
	rootCmd.AddCommand(runCmd)
}

// latest holds the newest update; intermediate ones may be skipped.
type latest struct {
	mu     sync.Mutex
	update live.Update
	ready  chan struct{}
}

func newLatest() *latest {
	return &latest{ready: make(chan struct{}, 1)}
}

func (l *latest) set(u live.Update) {
	l.mu.Lock()
	l.update = u
	l.mu.Unlock()
	select {
	case l.ready <- struct{}{}:
	default:
	}
}

func (l *latest) get() live.Update {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.update
}

func runWatch(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	wsURL, err := transport.WSURL(cfg.APIURL)
	if err != nil {
		return err
	}

	session, err := live.New(live.Options{
		URL:    wsURL,
		Dialer: transport.NewDialer(),
		Backoff: live.NewBackoff(
			cfg.Reconnect.BaseDelay,
			cfg.Reconnect.MaxDelay,
			live.DefaultFactor,
			cfg.Reconnect.MaxRetries,
		),
		DialTimeout: cfg.Timeout.Dial,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	client, err := backend.NewClient(backend.Config{BaseURL: cfg.APIURL}, logger)
	if err != nil {
		return err
	}

	var tracker runner.Tracker
	if runRecord {
		repo, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer repo.Close()
		recorder := history.NewRecorder(session, repo, logger)
		// Waits for the final save before the store closes.
		defer recorder.Close()
		tracker = recorder
	}

	updates := newLatest()
	unsubscribe := session.Subscribe(updates.set)
	defer unsubscribe()

	run := runner.New(session, client, tracker, runner.Config{
		ConnectTimeout: cfg.Timeout.Connect,
		WakeTimeout:    cfg.Timeout.Wake,
	}, logger)

	ui.Info("Starting run for %s", console.Cyan(runParams.RepoURL))
	sessionID, err := run.Start(ctx, runParams)
	if err != nil {
		return err
	}
	ui.Info("Session %s", sessionID)

	return follow(ctx, updates, console.NewProgress(ui))
}

// follow renders updates until the run finishes or retries run out.
func follow(ctx context.Context, updates *latest, progress *console.Progress) error {
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				ui.Warning("Stopped watching; the run continues on the backend")
				return nil
			}
			return ctx.Err()
		case <-updates.ready:
			u := updates.get()
			progress.Render(u)
			if u.Snapshot.Complete() {
				return nil
			}
			if u.Status.Exhausted {
				return live.ErrRetriesExhausted
			}
		}
	}
}
