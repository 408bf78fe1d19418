package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	grpcapi "github.com/clintrovert/gitpulse/internal/api/grpc"
)

type remoteCall func(ctx context.Context, client *grpcapi.Client) (*structpb.Struct, error)

// runRemote dials the server at --addr and prints the call's response.
func runRemote(cmd *cobra.Command, v *viper.Viper, call remoteCall) error {
	conn, err := grpc.NewClient(v.GetString("addr"), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to create gRPC client: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), v.GetDuration("timeout"))
	defer cancel()

	out, err := call(ctx, grpcapi.NewClient(conn))
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out.AsMap())
}

func newTaskCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "task <task-id>",
		Short: "Show a task on a running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemote(cmd, v, func(ctx context.Context, c *grpcapi.Client) (*structpb.Struct, error) {
				return c.GetTask(ctx, args[0])
			})
		},
	}
}

func newCancelCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Request cancellation of a task on a running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemote(cmd, v, func(ctx context.Context, c *grpcapi.Client) (*structpb.Struct, error) {
				return c.CancelTask(ctx, args[0])
			})
		},
	}
}

func newActiveCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "active",
		Short: "List pending and running tasks on a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRemote(cmd, v, func(ctx context.Context, c *grpcapi.Client) (*structpb.Struct, error) {
				return c.ListActiveTasks(ctx)
			})
		},
	}
}
