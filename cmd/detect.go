package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/newnotes/insight/internal/app"
	"github.com/newnotes/insight/internal/config"
	"github.com/newnotes/insight/internal/detector"
)

var detectCmd = &cobra.Command{
	Use:   "detect [activity.json]",
	Short: "Run one detection pass over activity JSON",
	Long: `Reads activity (notes, tasks, chat messages) as JSON from the given file
or from stdin, extracts topics, updates the interest graph and prints a
summary report.

Only one detection pass may run at a time; a file lock under ~/.insight
guards against concurrent passes from multiple processes.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDetect(args)
	},
}

func init() {
	rootCmd.AddCommand(detectCmd)
}

func runDetect(args []string) error {
	activity, err := readActivity(args)
	if err != nil {
		return err
	}
	if len(activity.Notes)+len(activity.Tasks)+len(activity.Chats) == 0 {
		return fmt.Errorf("activity contains no documents")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	unlock, err := acquireDetectLock()
	if err != nil {
		return err
	}
	defer unlock()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.Default()
	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	report, err := a.Detector.Run(ctx, *activity)
	if err != nil {
		return fmt.Errorf("detection pass: %w", err)
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// readActivity decodes the activity document from the file argument, or from
// stdin when no argument is given.
func readActivity(args []string) (*detector.Activity, error) {
	var r io.Reader = os.Stdin
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return nil, fmt.Errorf("opening activity file: %w", err)
		}
		defer f.Close() //nolint:errcheck // read-only file
		r = f
	}

	var activity detector.Activity
	if err := json.NewDecoder(r).Decode(&activity); err != nil {
		return nil, fmt.Errorf("decoding activity JSON: %w", err)
	}
	return &activity, nil
}

// acquireDetectLock takes the cross-process detection lock. Returns an error
// immediately if another detection pass holds it.
func acquireDetectLock() (func(), error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}
	dir := filepath.Join(home, ".insight")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, "detect.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring detection lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another detection pass is already running")
	}

	return func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("releasing detection lock", "error", err)
		}
	}, nil
}
