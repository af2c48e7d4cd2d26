package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	DevUserHeader = "X-Dev-User"
	DevRoleHeader = "X-Dev-Role"

	// accessTokenParam carries the bearer token on websocket upgrades,
	// where browsers cannot set an Authorization header.
	accessTokenParam = "access_token"
)

// DevUserID is the identity used by DevAuthMiddleware when no dev headers
// are sent.
var DevUserID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// Claims is the token payload. Role is preferred; Roles is accepted for
// identity providers that only emit a list.
type Claims struct {
	jwt.RegisteredClaims
	Role  string   `json:"role,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// Identity validates the subject and picks the first known role.
func (c *Claims) Identity() (Identity, error) {
	uid, err := uuid.Parse(c.Subject)
	if err != nil {
		return Identity{}, fmt.Errorf("subject is not a uuid: %w", err)
	}
	candidates := append([]string{c.Role}, c.Roles...)
	for _, r := range candidates {
		if role, err := ParseRole(r); err == nil {
			return Identity{UserID: uid, Role: role}, nil
		}
	}
	return Identity{}, fmt.Errorf("token carries no known role")
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey is an HMAC secret for development and tests.
	SigningKey []byte
}

// jwksResolver finds the JWKS URL on first use, falling back to OIDC
// discovery from the issuer. A failed discovery is retried on the next
// request.
type jwksResolver struct {
	mu     sync.Mutex
	cfg    JWTConfig
	cache  *JWKSCache
	lookup func(ctx context.Context, issuer string) (*OIDCProvider, error)
}

func (r *jwksResolver) get(ctx context.Context) (*JWKSCache, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cache != nil {
		return r.cache, nil
	}
	url := r.cfg.JWKSURL
	if url == "" {
		if r.cfg.Issuer == "" {
			return nil, fmt.Errorf("no JWKS URL or issuer configured")
		}
		provider, err := r.lookup(ctx, r.cfg.Issuer)
		if err != nil {
			return nil, err
		}
		url = provider.JWKSURI
	}
	r.cache = NewJWKSCache(url, defaultJWKSCacheTTL)
	return r.cache, nil
}

func bearerToken(c echo.Context) (string, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		if tok := c.QueryParam(accessTokenParam); tok != "" {
			return tok, nil
		}
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	}
	return strings.TrimSpace(parts[1]), nil
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	resolver := &jwksResolver{cfg: cfg, lookup: DiscoverOIDC}

	opts := []jwt.ParserOption{}
	if len(cfg.SigningKey) > 0 {
		opts = append(opts, jwt.WithValidMethods([]string{"HS256"}))
	} else {
		opts = append(opts, jwt.WithValidMethods([]string{"RS256"}))
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr, err := bearerToken(c)
			if err != nil {
				return err
			}
			ctx := c.Request().Context()

			var keyFunc jwt.Keyfunc
			if len(cfg.SigningKey) > 0 {
				keyFunc = func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }
			} else {
				cache, err := resolver.get(ctx)
				if err != nil {
					return echo.NewHTTPError(http.StatusServiceUnavailable, "token verification unavailable").SetInternal(err)
				}
				keyFunc = cache.KeyFunc(ctx)
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, keyFunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			id, err := claims.Identity()
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token").SetInternal(err)
			}

			c.Set(string(UserIDKey), id.UserID.String())
			c.SetRequest(c.Request().WithContext(WithIdentity(ctx, id)))
			return next(c)
		}
	}
}

// DevAuthMiddleware trusts X-Dev-User and X-Dev-Role. Without them the
// caller is DevUserID acting as a radiologist.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := Identity{UserID: DevUserID, Role: RoleRadiologist}
			if raw := c.Request().Header.Get(DevUserHeader); raw != "" {
				uid, err := uuid.Parse(raw)
				if err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "X-Dev-User must be a uuid")
				}
				id.UserID = uid
			}
			if raw := c.Request().Header.Get(DevRoleHeader); raw != "" {
				role, err := ParseRole(raw)
				if err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
				}
				id.Role = role
			}

			c.Set(string(UserIDKey), id.UserID.String())
			c.SetRequest(c.Request().WithContext(WithIdentity(c.Request().Context(), id)))
			return next(c)
		}
	}
}
