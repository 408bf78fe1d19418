package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	gitpulse "github.com/clintrovert/gitpulse/internal/app"
	"github.com/clintrovert/gitpulse/internal/orchestrator"
	"github.com/clintrovert/gitpulse/pkg/config"
	"github.com/clintrovert/gitpulse/pkg/types"
)

// errTaskUnsuccessful makes the process exit non-zero after the final task
// state has been printed.
var errTaskUnsuccessful = errors.New("task did not succeed")

// enqueueFunc submits work to the orchestrator and returns the task id.
type enqueueFunc func(ctx context.Context, orch *orchestrator.Orchestrator) (string, error)

// runLocal builds the orchestrator against the configured database, runs
// one task to completion and prints its final state.
func runLocal(cmd *cobra.Command, v *viper.Viper, enqueue enqueueFunc) error {
	cfg, err := config.Load(v.GetString("env-file"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := gitpulse.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := gitpulse.Build(ctx, cfg, nil, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := components.Close(); err != nil {
			logger.Warn("failed to close components", zap.Error(err))
		}
	}()

	orch := components.Orchestrator
	orch.Start(ctx)

	id, err := enqueue(ctx, orch)
	if err != nil {
		return err
	}
	logger.Info("task enqueued", zap.String("task_id", id))

	waitCtx, cancel := context.WithTimeout(ctx, v.GetDuration("timeout"))
	defer cancel()

	task, err := waitTask(waitCtx, orch, id, v.GetDuration("poll-interval"))
	if err != nil {
		logger.Warn("cancelling task", zap.String("task_id", id), zap.Error(err))
		if _, err := orch.Cancel(context.WithoutCancel(ctx), id); err != nil {
			return err
		}
		// Stop waits for a running task to reach its next checkpoint.
		orch.Stop()
		if task, err = orch.GetTask(id); err != nil {
			return err
		}
	}

	if err := printJSON(cmd.OutOrStdout(), task); err != nil {
		return err
	}
	if task.Status != types.TaskSucceeded {
		return fmt.Errorf("%w: %s", errTaskUnsuccessful, task.Status)
	}
	return nil
}

// waitTask polls until the task is terminal or ctx is done.
func waitTask(ctx context.Context, orch *orchestrator.Orchestrator, id string, interval time.Duration) (*types.Task, error) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		task, err := orch.GetTask(id)
		if err != nil {
			return nil, err
		}
		if task.IsTerminal() {
			return task, nil
		}

		select {
		case <-ctx.Done():
			return task, ctx.Err()
		case <-ticker.C:
		}
	}
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newSyncCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "sync <repository-id>...",
		Short: "Sync one or more repositories and wait for the result",
		Long: `Sync one or more local repositories. A single id runs a single repository
sync that reports page progress; several ids run one bulk sync.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return runLocal(cmd, v, func(ctx context.Context, orch *orchestrator.Orchestrator) (string, error) {
				if len(ids) == 1 {
					return orch.EnqueueSingleSync(ctx, ids[0])
				}
				return orch.EnqueueBulkSync(ctx, ids)
			})
		},
	}
}

func newRefreshCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh <owner-id>",
		Short: "Discover an owner's remote repositories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			force, err := cmd.Flags().GetBool("force")
			if err != nil {
				return err
			}
			return runLocal(cmd, v, func(ctx context.Context, orch *orchestrator.Orchestrator) (string, error) {
				return orch.EnqueueSelectionRefresh(ctx, ids[0], force)
			})
		},
	}
	cmd.Flags().Bool("force", false, "Ignore the freshness window")
	return cmd
}

func newSyncSelectedCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-selected <owner-id>",
		Short: "Sync every repository selected for an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			err = runLocal(cmd, v, func(ctx context.Context, orch *orchestrator.Orchestrator) (string, error) {
				id, _, err := orch.SyncSelected(ctx, ids[0])
				return id, err
			})
			if errors.Is(err, types.ErrNothingSelected) {
				_, werr := fmt.Fprintln(cmd.OutOrStdout(), "No repositories selected")
				return werr
			}
			return err
		},
	}
}

func newConnectCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect <login>",
		Short: "Connect a GitHub user or organization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("kind")
			token, _ := cmd.Flags().GetString("token")
			owner := &types.Owner{
				Kind:        types.OwnerKind(kind),
				Login:       args[0],
				AccessToken: token,
			}
			if owner.Kind != types.OwnerUser && owner.Kind != types.OwnerOrganization {
				return fmt.Errorf("invalid owner kind %q", kind)
			}

			cfg, err := config.Load(v.GetString("env-file"))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger, err := gitpulse.NewLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			components, err := gitpulse.Build(cmd.Context(), cfg, nil, logger)
			if err != nil {
				return err
			}
			defer components.Close()

			saved, err := components.Orchestrator.ConnectOwner(cmd.Context(), owner)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), saved)
		},
	}
	cmd.Flags().String("kind", string(types.OwnerUser), "Owner kind: user or organization")
	cmd.Flags().String("token", "", "Access token; falls back to GITHUB_TOKEN")
	return cmd
}
