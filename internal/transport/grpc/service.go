package transportgrpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/CharbellTrad/biometric-service/internal/usecase"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "biometric.v1.BiometricService"

// LogAuthenticationRequest records a device-bound attempt on behalf of the caller.
type LogAuthenticationRequest struct {
	DeviceID     string  `json:"device_id"`
	Success      *bool   `json:"success,omitempty"`
	AuthType     string  `json:"auth_type,omitempty"`
	ErrorCode    string  `json:"error_code,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
	SessionID    *string `json:"session_id,omitempty"`
	DurationMS   *int    `json:"duration_ms,omitempty"`
	Notes        *string `json:"notes,omitempty"`
}

// LogTraditionalLoginRequest records a username/password login.
type LogTraditionalLoginRequest struct {
	SessionID  *string `json:"session_id,omitempty"`
	DeviceID   string  `json:"device_id,omitempty"`
	DeviceName string  `json:"device_name,omitempty"`
	Platform   string  `json:"platform,omitempty"`
}

// EndSessionRequest narrows which of the caller's sessions are ended.
type EndSessionRequest struct {
	SessionID *string `json:"session_id,omitempty"`
	DeviceID  *string `json:"device_id,omitempty"`
}

// SessionStatusRequest asks whether a session has been ended.
type SessionStatusRequest struct {
	SessionID string `json:"session_id"`
}

// SessionStatusResponse reports whether a session has been ended.
type SessionStatusResponse struct {
	SessionID string `json:"session_id"`
	Ended     bool   `json:"ended"`
	Reason    string `json:"reason,omitempty"`
}

// ActiveSessionsRequest lists the caller's active sessions.
type ActiveSessionsRequest struct{}

// ActiveSessionsResponse wraps the caller's active sessions.
type ActiveSessionsResponse struct {
	Sessions []usecase.SessionView `json:"sessions"`
}

// ListDevicesRequest lists the caller's devices.
type ListDevicesRequest struct {
	CurrentDeviceID string `json:"current_device_id,omitempty"`
}

// ListDevicesResponse wraps the caller's devices.
type ListDevicesResponse struct {
	Devices []usecase.DeviceView `json:"devices"`
}

// DeleteDeviceRequest removes one of the caller's devices.
type DeleteDeviceRequest struct {
	DeviceID string `json:"device_id"`
}

// DeleteDeviceResponse confirms a device deletion.
type DeleteDeviceResponse struct {
	DeviceID string `json:"device_id"`
	Deleted  bool   `json:"deleted"`
}

// BiometricServiceServer is the server API of biometric.v1.BiometricService.
type BiometricServiceServer interface {
	LogAuthentication(context.Context, *LogAuthenticationRequest) (*usecase.LogResult, error)
	LogTraditionalLogin(context.Context, *LogTraditionalLoginRequest) (*usecase.TraditionalLoginResult, error)
	EndSession(context.Context, *EndSessionRequest) (*usecase.EndSessionResult, error)
	SessionStatus(context.Context, *SessionStatusRequest) (*SessionStatusResponse, error)
	ActiveSessions(context.Context, *ActiveSessionsRequest) (*ActiveSessionsResponse, error)
	ListDevices(context.Context, *ListDevicesRequest) (*ListDevicesResponse, error)
	DeleteDevice(context.Context, *DeleteDeviceRequest) (*DeleteDeviceResponse, error)
}

// FullMethod returns the full gRPC method name of a BiometricService method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// RegisterBiometricServiceServer registers srv with the gRPC registrar.
func RegisterBiometricServiceServer(s grpc.ServiceRegistrar, srv BiometricServiceServer) {
	s.RegisterService(&biometricServiceDesc, srv)
}

var biometricServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BiometricServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "LogAuthentication", Handler: unaryHandler("LogAuthentication", BiometricServiceServer.LogAuthentication)},
		{MethodName: "LogTraditionalLogin", Handler: unaryHandler("LogTraditionalLogin", BiometricServiceServer.LogTraditionalLogin)},
		{MethodName: "EndSession", Handler: unaryHandler("EndSession", BiometricServiceServer.EndSession)},
		{MethodName: "SessionStatus", Handler: unaryHandler("SessionStatus", BiometricServiceServer.SessionStatus)},
		{MethodName: "ActiveSessions", Handler: unaryHandler("ActiveSessions", BiometricServiceServer.ActiveSessions)},
		{MethodName: "ListDevices", Handler: unaryHandler("ListDevices", BiometricServiceServer.ListDevices)},
		{MethodName: "DeleteDevice", Handler: unaryHandler("DeleteDevice", BiometricServiceServer.DeleteDevice)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "biometric/v1/biometric.json",
}

type methodHandler = func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error)

func unaryHandler[Req, Resp any](method string, call func(BiometricServiceServer, context.Context, *Req) (*Resp, error)) methodHandler {
	fullMethod := FullMethod(method)

	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BiometricServiceServer), ctx, in)
		}

		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(BiometricServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}
