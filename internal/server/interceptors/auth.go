package interceptors

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"auth-platform/backend/internal/platform/apperr"
	"auth-platform/backend/internal/security"
)

// SessionChecker reports whether the session owning an access token is ACTIVE.
type SessionChecker interface {
	IsSessionActive(ctx context.Context, accessToken string) (bool, error)
}

// ActivityRecorder stamps the last activity time of the ACTIVE session owning an access token.
type ActivityRecorder interface {
	TouchSession(ctx context.Context, accessToken string) error
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithActivity makes every authenticated call count as session activity.
func WithActivity(a ActivityRecorder) GateOption {
	return func(g *Gate) { g.activity = a }
}

// WithGateLogger sets the logger.
func WithGateLogger(l *slog.Logger) GateOption {
	return func(g *Gate) { g.logger = l }
}

// Gate authenticates incoming calls from their bearer access token.
type Gate struct {
	tokens   *security.TokenIssuer
	sessions SessionChecker
	activity ActivityRecorder
	logger   *slog.Logger
}

// NewGate returns a Gate verifying tokens with tokens and session state with sessions.
func NewGate(tokens *security.TokenIssuer, sessions SessionChecker, opts ...GateOption) *Gate {
	g := &Gate{tokens: tokens, sessions: sessions, logger: slog.Default()}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Authenticate resolves the principal of an Authorization header value.
// A missing token fails InvalidHeader; an expired one TokenExpired; a bad signature, a non-access token or
// a session that is not ACTIVE or no longer stored fail TokenInvalid or SessionNotActive.
func (g *Gate) Authenticate(ctx context.Context, header string) (Principal, error) {
	token, ok := security.BearerToken(header)
	if !ok {
		return Principal{}, apperr.New(apperr.ErrInvalidHeader)
	}
	claims, err := g.tokens.Parse(token)
	if err != nil {
		return Principal{}, err
	}
	if claims.TokenType != security.TokenTypeAccess {
		return Principal{}, apperr.New(apperr.ErrTokenInvalid, "token_type", string(claims.TokenType))
	}
	active, err := g.sessions.IsSessionActive(ctx, token)
	if errors.Is(err, apperr.ErrSessionNotFound) {
		return Principal{}, apperr.New(apperr.ErrSessionNotActive, "user_id", claims.UserID)
	}
	if err != nil {
		return Principal{}, err
	}
	if !active {
		return Principal{}, apperr.New(apperr.ErrSessionNotActive, "user_id", claims.UserID)
	}
	return Principal{
		UserID:      claims.UserID,
		Username:    claims.Subject,
		Role:        claims.Role,
		Email:       claims.Email,
		AccessToken: token,
	}, nil
}

// AuthUnary returns a unary server interceptor that authenticates the Bearer token from gRPC metadata and
// places the Principal in the context. publicMethods is the set of full method names that do not require a
// token; a valid token on a public method still yields a Principal.
func AuthUnary(gate *Gate, publicMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		public := publicMethods[info.FullMethod]
		header := authorizationHeader(ctx)
		if public && header == "" {
			return handler(ctx, req)
		}

		p, err := gate.Authenticate(ctx, header)
		if err != nil {
			if public {
				return handler(ctx, req)
			}
			gate.logger.DebugContext(ctx, "request rejected", "method", info.FullMethod, "kind", apperr.KindOf(err))
			return nil, status.Error(apperr.GRPCCode(err), rejection(err))
		}
		if gate.activity != nil {
			if err := gate.activity.TouchSession(ctx, p.AccessToken); err != nil && !errors.Is(err, apperr.ErrNoActiveSession) {
				gate.logger.WarnContext(ctx, "activity stamp failed", "user_id", p.UserID, "error", err)
			}
		}
		return handler(WithPrincipal(ctx, p), req)
	}
}

// authorizationHeader returns the raw authorization metadata value, or "".
func authorizationHeader(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

func rejection(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindInvalidHeader:
		return "token not found"
	case apperr.KindTokenExpired:
		return "token expired"
	case apperr.KindTokenInvalid, apperr.KindSessionNotActive:
		return "token invalid or session is inactive"
	case apperr.KindTimeout:
		return "session lookup timed out"
	default:
		return "token processing error"
	}
}
