// Package handler exposes the auth service over gRPC. Messages are plain structs carried by the JSON codec.
package handler

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"auth-platform/backend/internal/identity/service"
	"auth-platform/backend/internal/platform/apperr"
	"auth-platform/backend/internal/policy/engine"
	"auth-platform/backend/internal/server/interceptors"
	_ "auth-platform/backend/internal/server/jsoncodec"
	sessiondomain "auth-platform/backend/internal/session/domain"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "auth.v1.AuthService"

// Full method names.
const (
	MethodRegister    = "/" + ServiceName + "/Register"
	MethodVerifyEmail = "/" + ServiceName + "/VerifyEmail"
	MethodLogin       = "/" + ServiceName + "/Login"
	MethodLogout      = "/" + ServiceName + "/Logout"
	MethodRefresh     = "/" + ServiceName + "/Refresh"
	MethodBlockUser   = "/" + ServiceName + "/BlockUser"
	MethodDeleteUser  = "/" + ServiceName + "/DeleteUser"
)

// PublicMethods do not require a bearer token.
var PublicMethods = map[string]bool{
	MethodRegister:    true,
	MethodVerifyEmail: true,
	MethodLogin:       true,
	MethodRefresh:     true,
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	Message          string    `json:"message"`
	Email            string    `json:"email"`
	ExpiresAt        time.Time `json:"expiresAt"`
	ExpiresInMinutes int       `json:"expiresInMinutes"`
}

type VerifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// TokenResponse is returned by VerifyEmail, Login and Refresh.
type TokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type LogoutRequest struct{}

type LogoutResponse struct {
	Message string `json:"message"`
}

type BlockUserRequest struct {
	Username string `json:"username"`
}

type BlockUserResponse struct {
	BlockedSessions int `json:"blockedSessions"`
}

type DeleteUserRequest struct {
	UserID string `json:"userId"`
}

type DeleteUserResponse struct {
	DeletedSessions int `json:"deletedSessions"`
}

// AuthServer serves AuthService.
type AuthServer struct {
	auth *service.AuthService
}

// NewAuthServer returns a new Auth gRPC server. auth may be nil; then every RPC returns Unimplemented.
func NewAuthServer(auth *service.AuthService) *AuthServer {
	return &AuthServer{auth: auth}
}

// Register stages a sign-up and sends the verification code.
func (s *AuthServer) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method Register not implemented")
	}
	res, err := s.auth.Register(ctx, service.RegisterInput{Username: req.Username, Email: req.Email, Password: req.Password})
	if err != nil {
		return nil, toStatus(err)
	}
	return &RegisterResponse{
		Message:          "Verification code sent. Check your email.",
		Email:            res.Email,
		ExpiresAt:        res.ExpiresAt,
		ExpiresInMinutes: int(res.ExpiresIn / time.Minute),
	}, nil
}

// VerifyEmail confirms the code and returns the first token pair.
func (s *AuthServer) VerifyEmail(ctx context.Context, req *VerifyEmailRequest) (*TokenResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method VerifyEmail not implemented")
	}
	pair, err := s.auth.VerifyEmail(ctx, req.Email, req.Code)
	if err != nil {
		return nil, toStatus(err)
	}
	return tokenResponse(pair), nil
}

// Login authenticates with username and password.
func (s *AuthServer) Login(ctx context.Context, req *LoginRequest) (*TokenResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method Login not implemented")
	}
	pair, err := s.auth.Login(ctx, req.Username, req.Password)
	if err != nil {
		return nil, toStatus(err)
	}
	return tokenResponse(pair), nil
}

// Logout ends the caller's session.
func (s *AuthServer) Logout(ctx context.Context, _ *LogoutRequest) (*LogoutResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method Logout not implemented")
	}
	p, ok := interceptors.PrincipalFrom(ctx)
	if !ok {
		return nil, status.Error(codes.PermissionDenied, "token not found")
	}
	if err := s.auth.Logout(ctx, "Bearer "+p.AccessToken); err != nil {
		return nil, toStatus(err)
	}
	return &LogoutResponse{Message: "Logout success, session closed"}, nil
}

// Refresh rotates the session of the refresh token.
func (s *AuthServer) Refresh(ctx context.Context, req *RefreshRequest) (*TokenResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method Refresh not implemented")
	}
	pair, err := s.auth.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return nil, toStatus(err)
	}
	return tokenResponse(pair), nil
}

// BlockUser freezes a user's account and sessions.
func (s *AuthServer) BlockUser(ctx context.Context, req *BlockUserRequest) (*BlockUserResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method BlockUser not implemented")
	}
	p, ok := interceptors.PrincipalFrom(ctx)
	if !ok {
		return nil, status.Error(codes.PermissionDenied, "token not found")
	}
	n, err := s.auth.BlockUser(ctx, actor(p), req.Username)
	if err != nil {
		return nil, toStatus(err)
	}
	return &BlockUserResponse{BlockedSessions: n}, nil
}

// DeleteUser removes a user and its sessions.
func (s *AuthServer) DeleteUser(ctx context.Context, req *DeleteUserRequest) (*DeleteUserResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method DeleteUser not implemented")
	}
	p, ok := interceptors.PrincipalFrom(ctx)
	if !ok {
		return nil, status.Error(codes.PermissionDenied, "token not found")
	}
	n, err := s.auth.DeleteUser(ctx, actor(p), req.UserID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &DeleteUserResponse{DeletedSessions: n}, nil
}

func actor(p interceptors.Principal) engine.Actor {
	return engine.Actor{UserID: p.UserID, Role: p.Role}
}

func tokenResponse(pair *sessiondomain.TokenPair) *TokenResponse {
	return &TokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}
}

// toStatus maps service errors to gRPC status. Unclassified failures are reported without detail.
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	code := apperr.GRPCCode(err)
	if code == codes.Internal {
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(code, err.Error())
}

// authServiceServer is the method set dispatched by ServiceDesc.
type authServiceServer interface {
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	VerifyEmail(context.Context, *VerifyEmailRequest) (*TokenResponse, error)
	Login(context.Context, *LoginRequest) (*TokenResponse, error)
	Logout(context.Context, *LogoutRequest) (*LogoutResponse, error)
	Refresh(context.Context, *RefreshRequest) (*TokenResponse, error)
	BlockUser(context.Context, *BlockUserRequest) (*BlockUserResponse, error)
	DeleteUser(context.Context, *DeleteUserRequest) (*DeleteUserResponse, error)
}

// unary builds a method handler that decodes Req and dispatches to call.
func unary[Req any, Resp any](fullMethod string, call func(authServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(authServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(authServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes AuthService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*authServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Register", Handler: unary(MethodRegister, authServiceServer.Register)},
		{MethodName: "VerifyEmail", Handler: unary(MethodVerifyEmail, authServiceServer.VerifyEmail)},
		{MethodName: "Login", Handler: unary(MethodLogin, authServiceServer.Login)},
		{MethodName: "Logout", Handler: unary(MethodLogout, authServiceServer.Logout)},
		{MethodName: "Refresh", Handler: unary(MethodRefresh, authServiceServer.Refresh)},
		{MethodName: "BlockUser", Handler: unary(MethodBlockUser, authServiceServer.BlockUser)},
		{MethodName: "DeleteUser", Handler: unary(MethodDeleteUser, authServiceServer.DeleteUser)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "auth/v1/auth.json",
}

// Register adds srv to r.
func Register(r grpc.ServiceRegistrar, srv *AuthServer) {
	r.RegisterService(&ServiceDesc, srv)
}
