package access

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/patrickmn/go-cache"
	"github.com/relabs-tech/appseed/core/logger"
)

// JwtMiddlewareBuilder is a helper builder for JwtMiddelware
type JwtMiddlewareBuilder struct {
	// Secret is the HMAC secret tokens are signed with. This is mandatory.
	Secret []byte
	// Issuer is the accepted issuer for the token. Empty accepts every issuer.
	Issuer string
}

// Claims are the claims of an app member token. The subject is the app member id.
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// NewToken creates a signed token for an app member
func NewToken(secret []byte, issuer string, memberID uuid.UUID, roles []string, validFor time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   memberID.String(),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validFor)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// NewJwtMiddelware returns a middleware handler to validate
// JWT bearer token.
//
// Valid tokens result in an Authorization with the app member id taken from
// the subject and the roles claim. Requests without a token pass unauthorized.
//
// This is a final handler with regards to the bearer token. It will return
// http.StatusUnauthorized when a token is available but invalid.
func NewJwtMiddelware(jmb *JwtMiddlewareBuilder) mux.MiddlewareFunc {
	if len(jmb.Secret) == 0 {
		panic("jwt secret is missing")
	}

	authCache := cache.New(5*time.Minute, 10*time.Minute)

	keyLookup := func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return jmb.Secret, nil
	}

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if AuthorizationFromContext(r.Context()) != nil {
				h.ServeHTTP(w, r)
				return
			}
			rlog := logger.FromContext(r.Context())

			tokenString := bearerToken(r)
			if len(tokenString) == 0 {
				h.ServeHTTP(w, r) // no token no auth, moving on
				return
			}

			var auth *Authorization
			if cached, ok := authCache.Get(tokenString); ok {
				auth = cached.(*Authorization)
			} else {
				claims := Claims{}
				token, err := jwt.ParseWithClaims(tokenString, &claims, keyLookup)
				if err != nil || !token.Valid || (jmb.Issuer != "" && claims.Issuer != jmb.Issuer) {
					rlog.WithError(err).Debugln("rejected bearer token")
					http.Error(w, "invalid token", http.StatusUnauthorized)
					return
				}
				auth = &Authorization{Roles: claims.Roles}
				if claims.Subject != "" {
					memberID, err := uuid.Parse(claims.Subject)
					if err != nil {
						http.Error(w, "invalid token subject", http.StatusUnauthorized)
						return
					}
					auth.MemberID = memberID
				}
				ttl := cache.DefaultExpiration
				if claims.ExpiresAt != nil {
					if left := time.Until(claims.ExpiresAt.Time); left < 5*time.Minute {
						ttl = left
					}
				}
				authCache.Set(tokenString, auth, ttl)
			}

			ctx, _ := logger.ContextWithLoggerIdentity(r.Context(), auth.MemberID.String())
			ctx = ContextWithAuthorization(ctx, auth)
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewBackdoorMiddelware returns a middleware handler which authorizes requests whose
// bearer token is a key of backdoors with the respective authorization.
//
// Example: if you specify the backdoor
//
//	"please": Authorization{Roles:[]string{"admin"}}
//
// then any request with the bearer token "please" will be authorized with the admin role.
func NewBackdoorMiddelware(backdoors map[string]Authorization) mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth, ok := backdoors[bearerToken(r)]; ok && AuthorizationFromContext(r.Context()) == nil {
				a := auth
				r = r.WithContext(ContextWithAuthorization(r.Context(), &a))
			}
			h.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	bearer := r.Header.Get("Authorization")
	if len(bearer) == 0 || bearer == "null" {
		return ""
	}
	if len(bearer) >= 7 && strings.ToLower(bearer[:7]) == "bearer " {
		return bearer[7:]
	}
	return bearer
}
