package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
	"github.com/platinummonkey/tenancy/pkg/contextkeys"
	"github.com/platinummonkey/tenancy/pkg/httputil"
	"github.com/platinummonkey/tenancy/pkg/observability"
)

// UserIDHeader carries the caller's user id when a trusted gateway
// authenticates requests
const UserIDHeader = "X-User-ID"

// Identity modes
const (
	ModeHeader = "header"
	ModeOIDC   = "oidc"
)

// TokenVerifier validates a bearer token and returns the caller's email
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (string, error)
}

// EmailResolver maps a verified email to a user id
type EmailResolver interface {
	IDByEmail(ctx context.Context, email string) (int64, error)
}

// OIDCVerifier verifies ID tokens issued by an OpenID Connect provider
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the provider at issuerURL
func NewOIDCVerifier(ctx context.Context, issuerURL, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	return NewOIDCVerifierFromKeySet(provider.Verifier(&oidc.Config{ClientID: clientID})), nil
}

// NewOIDCVerifierFromKeySet wraps an already configured verifier
func NewOIDCVerifierFromKeySet(verifier *oidc.IDTokenVerifier) *OIDCVerifier {
	return &OIDCVerifier{verifier: verifier}
}

// Verify checks the token signature, issuer, audience and expiry and
// returns its email claim
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (string, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return "", fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified *bool  `json:"email_verified"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return "", fmt.Errorf("failed to parse claims: %w", err)
	}
	if claims.Email == "" {
		return "", fmt.Errorf("token has no email claim")
	}
	if claims.EmailVerified != nil && !*claims.EmailVerified {
		return "", fmt.Errorf("token email is not verified")
	}
	return claims.Email, nil
}

// HeaderIdentity trusts X-User-ID. Requests without the header continue
// anonymously.
func HeaderIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}

		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			httputil.WriteUnauthorized(w, "invalid "+UserIDHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), userID)))
	})
}

// OIDCIdentity verifies "Authorization: Bearer <id_token>" and resolves the
// token's email to a user. Requests without the header continue anonymously.
func OIDCIdentity(verifier TokenVerifier, resolver EmailResolver, logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				next.ServeHTTP(w, r)
				return
			}

			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				httputil.WriteUnauthorized(w, "invalid authorization header format")
				return
			}

			ctx := r.Context()
			email, err := verifier.Verify(ctx, strings.TrimSpace(token))
			if err != nil {
				logger.WithContext(ctx).WithError(err).Debug("rejected bearer token")
				httputil.WriteUnauthorized(w, "invalid or expired token")
				return
			}

			userID, err := resolver.IDByEmail(ctx, email)
			if err != nil {
				if apperrors.Is(err, apperrors.KindNotFound) {
					httputil.WriteUnauthorized(w, "no user is registered for this token")
					return
				}
				logger.WithContext(ctx).WithError(err).Error("failed to resolve token email")
				httputil.WriteAppError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(withIdentity(ctx, userID)))
		})
	}
}

func withIdentity(ctx context.Context, userID int64) context.Context {
	ctx = contextkeys.WithActingUser(ctx, userID)
	return observability.WithUserID(ctx, strconv.FormatInt(userID, 10))
}

// ActingUser returns the authenticated user id of the request
func ActingUser(r *http.Request) (int64, bool) {
	return contextkeys.ActingUser(r.Context())
}
