package grpc

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/market-engine/internal/core"
	"github.com/olyamironova/market-engine/internal/domain"
	"github.com/olyamironova/market-engine/internal/middleware"
	"github.com/olyamironova/market-engine/internal/port"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	AdminService = "market.v1.Admin"
	// HealthService is the health check name that tracks the sweep loop.
	HealthService = "market.v1.Sweep"
)

// AdminServer is the operator surface: run a sweep, read a balance, see
// when the sweep last ran.
type AdminServer interface {
	SweepNow(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetBalance(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	LastSweep(context.Context, *emptypb.Empty) (*timestamppb.Timestamp, error)
}

type GRPCServer struct {
	Eng     *core.Engine
	sweeper *core.Sweeper
	health  *health.Server
	secret  []byte
	log     *slog.Logger
}

func NewGRPCServer(eng *core.Engine, sweeper *core.Sweeper, secret []byte, log *slog.Logger) *GRPCServer {
	return &GRPCServer{
		Eng:     eng,
		sweeper: sweeper,
		health:  health.NewServer(),
		secret:  secret,
		log:     log.With(slog.String("component", "grpc")),
	}
}

// Register builds a grpc.Server with the admin and health services.
func (s *GRPCServer) Register() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.logUnary, s.authUnary))
	srv.RegisterService(&adminServiceDesc, AdminServer(s))
	healthpb.RegisterHealthServer(srv, s.health)
	s.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	return srv
}

// Run serves on addr until ctx is cancelled.
func (s *GRPCServer) Run(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := s.Register()
	go s.WatchHealth(ctx, time.Second)
	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		srv.GracefulStop()
	}()
	s.log.Info("grpc listening", slog.String("addr", addr))
	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// WatchHealth mirrors Sweeper.Healthy into the health service until ctx
// ends.
func (s *GRPCServer) WatchHealth(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		s.syncHealth()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (s *GRPCServer) syncHealth() {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if s.sweeper != nil && s.sweeper.Healthy() {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(HealthService, st)
	s.health.SetServingStatus("", st)
}

func (s *GRPCServer) SweepNow(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if s.sweeper == nil {
		return nil, status.Error(codes.Unavailable, "sweeper disabled")
	}
	rep := s.sweeper.Tick(ctx)
	closures := make([]any, 0, len(rep.Closures))
	for _, c := range rep.Closures {
		entry := map[string]any{
			"listing_id": c.ListingID.String(),
			"outcome":    string(c.Outcome),
			"amount":     c.Amount.String(),
		}
		if c.WinnerID != nil {
			entry["winner_id"] = c.WinnerID.String()
		}
		closures = append(closures, entry)
	}
	fields := map[string]any{
		"started_at":      rep.StartedAt.Format(time.RFC3339Nano),
		"closures":        closures,
		"auctions_failed": rep.AuctionsFailed,
		"offers_expired":  rep.OffersExpired,
	}
	if rep.Err != nil {
		fields["error"] = rep.Err.Error()
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode report: %v", err)
	}
	return out, nil
}

func (s *GRPCServer) GetBalance(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	id, err := uuid.Parse(req.GetValue())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid user id: %v", err)
	}
	b, err := s.Eng.Ledger.Balance(ctx, id)
	if err != nil {
		return nil, ToStatus(err)
	}
	return wrapperspb.String(b.String()), nil
}

func (s *GRPCServer) LastSweep(context.Context, *emptypb.Empty) (*timestamppb.Timestamp, error) {
	if s.sweeper == nil {
		return nil, status.Error(codes.Unavailable, "sweeper disabled")
	}
	last := s.sweeper.LastTick()
	if last.IsZero() {
		return nil, status.Error(codes.NotFound, "no sweep has run yet")
	}
	return timestamppb.New(last), nil
}

// ToStatus maps the domain error taxonomy onto gRPC codes.
func ToStatus(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, domain.ErrValidation):
		code = codes.InvalidArgument
	case errors.Is(err, domain.ErrStateConflict), errors.Is(err, domain.ErrInsufficientFunds):
		code = codes.FailedPrecondition
	case errors.Is(err, port.ErrTxConflict):
		code = codes.Aborted
	case errors.Is(err, domain.ErrUnauthorized):
		code = codes.PermissionDenied
	case errors.Is(err, domain.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	default:
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(code, err.Error())
}

func (s *GRPCServer) authUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if strings.HasPrefix(info.FullMethod, "/"+healthpb.Health_ServiceDesc.ServiceName+"/") {
		return handler(ctx, req)
	}
	md, _ := metadata.FromIncomingContext(ctx)
	var raw string
	if v := md.Get("authorization"); len(v) > 0 {
		raw = middleware.Bearer(v[0])
	}
	if raw == "" {
		return nil, status.Error(codes.Unauthenticated, "missing bearer token")
	}
	_, scopes, err := middleware.VerifyToken(raw, s.secret)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid or expired token")
	}
	if !middleware.HasScope(scopes, middleware.ScopeInternal) {
		return nil, status.Error(codes.PermissionDenied, "missing scope "+middleware.ScopeInternal)
	}
	return handler(ctx, req)
}

func (s *GRPCServer) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.log.InfoContext(ctx, "grpc call",
		slog.String("method", info.FullMethod),
		slog.String("code", status.Code(err).String()),
		slog.Duration("latency", time.Since(start)))
	return resp, err
}
