// Package grpc serves task status and bulk dispatch over gRPC, together
// with the standard health service.
package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/clintrovert/gitpulse/pkg/types"
)

// Service is the orchestrator surface the gRPC server calls.
type Service interface {
	GetTask(id string) (*types.Task, error)
	ListActive() []*types.Task
	Cancel(ctx context.Context, id string) (*types.Task, error)
	EnqueueBulkSync(ctx context.Context, repositoryIDs []int64) (string, error)
}

// Server implements the SyncService gRPC service
type Server struct {
	svc    Service
	health *health.Server
	logger *zap.Logger
}

// NewServer creates a new gRPC server
func NewServer(svc Service, logger *zap.Logger) *Server {
	return &Server{
		svc:    svc,
		health: health.NewServer(),
		logger: logger,
	}
}

// Register registers the sync and health services with a gRPC server
func (s *Server) Register(grpcServer *grpc.Server) {
	grpcServer.RegisterService(&SyncServiceDesc, s)
	healthpb.RegisterHealthServer(grpcServer, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
}

// Shutdown reports NOT_SERVING to health checkers
func (s *Server) Shutdown() {
	s.health.Shutdown()
}

// GetTask returns one task
func (s *Server) GetTask(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := taskID(req)
	if err != nil {
		return nil, toStatus(err)
	}
	t, err := s.svc.GetTask(id)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(taskView(t))
}

// CancelTask requests cancellation of a task
func (s *Server) CancelTask(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := taskID(req)
	if err != nil {
		return nil, toStatus(err)
	}
	t, err := s.svc.Cancel(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(map[string]any{
		"task_id":          t.ID,
		"status":           string(t.Status),
		"cancel_requested": t.CancelRequested,
	})
}

// BulkSync enqueues a sync over the listed repositories
func (s *Server) BulkSync(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ids, err := repositoryIDs(req)
	if err != nil {
		return nil, toStatus(err)
	}
	id, err := s.svc.EnqueueBulkSync(ctx, ids)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(map[string]any{"task_id": id})
}

// ListActiveTasks lists pending and running tasks
func (s *Server) ListActiveTasks(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	active := s.svc.ListActive()
	views := make([]map[string]any, 0, len(active))
	for _, t := range active {
		views = append(views, taskView(t))
	}
	return encode(map[string]any{"tasks": views, "total": len(views)})
}

func taskView(t *types.Task) map[string]any {
	v := map[string]any{
		"task_id":          t.ID,
		"kind":             string(t.Spec.Kind),
		"spec":             t.Spec,
		"status":           string(t.Status),
		"progress":         t.Progress,
		"created_at":       t.CreatedAt.Format(time.RFC3339Nano),
		"cancel_requested": t.CancelRequested,
	}
	if len(t.ResultDetail) > 0 {
		v["result_detail"] = t.ResultDetail
	}
	if t.StartedAt != nil {
		v["started_at"] = t.StartedAt.Format(time.RFC3339Nano)
	}
	if t.FinishedAt != nil {
		v["finished_at"] = t.FinishedAt.Format(time.RFC3339Nano)
	}
	return v
}

// encode turns v into a Struct through its JSON form, so nested values may
// be any JSON-marshalable type.
func encode(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	out := &structpb.Struct{}
	if err := out.UnmarshalJSON(b); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return out, nil
}

func taskID(req *structpb.Struct) (string, error) {
	id := req.GetFields()["task_id"].GetStringValue()
	if id == "" {
		return "", fmt.Errorf("%w: task_id is required", types.ErrInvalidArgument)
	}
	return id, nil
}

// maxExactID is the largest integer a JSON number carries without rounding.
const maxExactID = 1 << 53

func repositoryIDs(req *structpb.Struct) ([]int64, error) {
	list := req.GetFields()["repository_ids"].GetListValue()
	if list == nil {
		return nil, fmt.Errorf("%w: repository_ids must be a list", types.ErrInvalidArgument)
	}
	ids := make([]int64, 0, len(list.GetValues()))
	for _, v := range list.GetValues() {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok || n.NumberValue != math.Trunc(n.NumberValue) || n.NumberValue <= 0 {
			return nil, fmt.Errorf("%w: repository ids must be positive integers", types.ErrInvalidArgument)
		}
		if n.NumberValue > maxExactID {
			return nil, fmt.Errorf("%w: repository id %g is out of range", types.ErrInvalidArgument, n.NumberValue)
		}
		ids = append(ids, int64(n.NumberValue))
	}
	return ids, nil
}

// toStatus maps the error taxonomy onto gRPC status codes.
func toStatus(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, types.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, types.ErrConflict):
		code = codes.AlreadyExists
	case errors.Is(err, types.ErrInvalidArgument):
		code = codes.InvalidArgument
	case errors.Is(err, types.ErrUnauthorized):
		code = codes.Unauthenticated
	case errors.Is(err, types.ErrQueueFull):
		code = codes.ResourceExhausted
	case errors.Is(err, types.ErrStorageUnavailable):
		code = codes.Unavailable
	}
	return status.Error(code, err.Error())
}

// UnaryLoggingInterceptor logs every unary call with its duration and code.
func UnaryLoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("grpc request",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("duration", time.Since(start)),
		)
		return resp, err
	}
}
