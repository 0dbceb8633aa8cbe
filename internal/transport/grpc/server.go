package transportgrpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/CharbellTrad/biometric-service/internal/core/domain"
	"github.com/CharbellTrad/biometric-service/internal/core/port"
	grpcinterceptors "github.com/CharbellTrad/biometric-service/internal/transport/grpc/interceptors"
	"github.com/CharbellTrad/biometric-service/internal/usecase"
)

// AuthLog is the authentication log surface served over gRPC.
type AuthLog interface {
	LogAuthentication(ctx context.Context, caller domain.Caller, req usecase.LogAuthenticationRequest) usecase.LogResult
	LogTraditionalLogin(ctx context.Context, caller domain.Caller, req usecase.TraditionalLoginRequest) usecase.TraditionalLoginResult
	EndSession(ctx context.Context, caller domain.Caller, sessionID, deviceUUID *string) usecase.EndSessionResult
	SessionEnded(ctx context.Context, caller domain.Caller, sessionID string) (bool, string, error)
	ActiveSessions(ctx context.Context, ownerID string) ([]usecase.SessionView, error)
}

// DeviceRegistry lists and removes a user's devices.
type DeviceRegistry interface {
	ListDevices(ctx context.Context, ownerID, currentDeviceUUID string) ([]usecase.DeviceView, error)
	DeleteDevice(ctx context.Context, caller domain.Caller, deviceID string) error
}

// ServerDependencies encapsulates services required by the gRPC server layer.
type ServerDependencies struct {
	AuthLog        AuthLog
	Devices        DeviceRegistry
	Identity       port.IdentityProvider
	Metrics        *grpcinterceptors.GRPCMetrics
	TracerProvider trace.TracerProvider
	Logger         *zap.Logger
}

// NewServer wires the biometric gRPC service with authentication, metrics and
// tracing. The health service is public.
func NewServer(deps ServerDependencies) (*grpc.Server, error) {
	if deps.AuthLog == nil || deps.Devices == nil {
		return nil, fmt.Errorf("auth log and device services are required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	authInterceptor := grpcinterceptors.NewAuthInterceptor(deps.Identity, grpcinterceptors.AuthOptions{
		Logger: logger,
		AllowMethods: []string{
			"/grpc.health.v1.Health/Check",
			"/grpc.health.v1.Health/Watch",
		},
	})

	server := grpc.NewServer(
		grpcinterceptors.TracingServerOption(grpcinterceptors.TracingOptions{TracerProvider: deps.TracerProvider}),
		grpc.ChainUnaryInterceptor(
			deps.Metrics.UnaryServerInterceptor(),
			authInterceptor.UnaryServerInterceptor(),
		),
	)

	RegisterBiometricServiceServer(server, NewBiometricServer(deps.AuthLog, deps.Devices, logger))

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	reflection.Register(server)

	return server, nil
}

// BiometricServer implements biometric.v1.BiometricService.
type BiometricServer struct {
	logs    AuthLog
	devices DeviceRegistry
	logger  *zap.Logger
}

// NewBiometricServer constructs the service implementation.
func NewBiometricServer(logs AuthLog, devices DeviceRegistry, logger *zap.Logger) *BiometricServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BiometricServer{logs: logs, devices: devices, logger: logger}
}

// LogAuthentication records a device-bound attempt for the caller.
func (s *BiometricServer) LogAuthentication(ctx context.Context, req *LogAuthenticationRequest) (*usecase.LogResult, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}

	var authErr *domain.AuthError
	if req.ErrorCode != "" || req.ErrorMessage != "" {
		authErr = &domain.AuthError{Code: req.ErrorCode, Message: req.ErrorMessage}
	}

	success := true
	if req.Success != nil {
		success = *req.Success
	}

	result := s.logs.LogAuthentication(ctx, caller, usecase.LogAuthenticationRequest{
		DeviceID:   req.DeviceID,
		Success:    success,
		AuthType:   domain.AuthType(strings.ToLower(strings.TrimSpace(req.AuthType))),
		Error:      authErr,
		SessionID:  req.SessionID,
		DurationMS: req.DurationMS,
		Attempt:    attemptContext(ctx, req.Notes),
	})
	if result.Cause != nil {
		s.logger.Debug("authentication log envelope carries failure", zap.Error(result.Cause))
	}
	return &result, nil
}

// LogTraditionalLogin records a username/password login for the caller.
func (s *BiometricServer) LogTraditionalLogin(ctx context.Context, req *LogTraditionalLoginRequest) (*usecase.TraditionalLoginResult, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}

	hint := &domain.DeviceHint{DeviceUUID: req.DeviceID, DeviceName: req.DeviceName, Platform: req.Platform}
	if hint.Empty() {
		hint = nil
	}

	result := s.logs.LogTraditionalLogin(ctx, caller, usecase.TraditionalLoginRequest{
		SessionID: req.SessionID,
		Device:    hint,
		Attempt:   attemptContext(ctx, nil),
	})
	return &result, nil
}

// EndSession ends the caller's active sessions.
func (s *BiometricServer) EndSession(ctx context.Context, req *EndSessionRequest) (*usecase.EndSessionResult, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}

	result := s.logs.EndSession(ctx, caller, req.SessionID, req.DeviceID)
	return &result, nil
}

// SessionStatus reports whether a session has been ended.
func (s *BiometricServer) SessionStatus(ctx context.Context, req *SessionStatusRequest) (*SessionStatusResponse, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, status.Error(codes.InvalidArgument, "session_id is required")
	}

	ended, reason, err := s.logs.SessionEnded(ctx, caller, req.SessionID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SessionStatusResponse{SessionID: req.SessionID, Ended: ended, Reason: reason}, nil
}

// ActiveSessions lists the caller's active sessions.
func (s *BiometricServer) ActiveSessions(ctx context.Context, _ *ActiveSessionsRequest) (*ActiveSessionsResponse, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}

	sessions, err := s.logs.ActiveSessions(ctx, caller.UserID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ActiveSessionsResponse{Sessions: sessions}, nil
}

// ListDevices lists the caller's non-revoked devices.
func (s *BiometricServer) ListDevices(ctx context.Context, req *ListDevicesRequest) (*ListDevicesResponse, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}

	devices, err := s.devices.ListDevices(ctx, caller.UserID, req.CurrentDeviceID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListDevicesResponse{Devices: devices}, nil
}

// DeleteDevice removes one of the caller's devices. Its history is kept.
func (s *BiometricServer) DeleteDevice(ctx context.Context, req *DeleteDeviceRequest) (*DeleteDeviceResponse, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.devices.DeleteDevice(ctx, caller, req.DeviceID); err != nil {
		return nil, toStatus(err)
	}
	return &DeleteDeviceResponse{DeviceID: req.DeviceID, Deleted: true}, nil
}

func callerFrom(ctx context.Context) (domain.Caller, error) {
	caller, ok := grpcinterceptors.CallerFromContext(ctx)
	if !ok {
		return domain.Caller{}, status.Error(codes.Unauthenticated, "authentication required")
	}
	return caller, nil
}

func attemptContext(ctx context.Context, notes *string) domain.AttemptContext {
	attempt := domain.AttemptContext{Notes: notes}

	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		ip := p.Addr.String()
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		attempt.IPAddress = &ip
	}

	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get("user-agent"); len(values) > 0 && values[0] != "" {
			ua := values[0]
			attempt.UserAgent = &ua
		}
	}

	return attempt
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, "device not found")
	case errors.Is(err, domain.ErrState):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

var _ BiometricServiceServer = (*BiometricServer)(nil)
