package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/asdine/storm/v3"
	"github.com/dgrijalva/jwt-go"
	"github.com/go-chi/render"
	"golang.org/x/crypto/bcrypt"
)

// minSecretLen is the shortest COPIS_JWT_SECRET accepted, in bytes.
const minSecretLen = 32

type ctxKey string

const claimsKey ctxKey = "claims"

var (
	ErrNoSecret    = fmt.Errorf("COPIS_JWT_SECRET must be set to at least %d bytes", minSecretLen)
	JWTEmpty       = errors.New("Bearer token not provided")
	errBadToken    = errors.New("Invalid token")
	errExpired     = errors.New("Token has expired")
	errOtherRig    = errors.New("Token was issued for another rig")
	errNotOperator = errors.New("Only operators may drive the rig")
)

// RigClaims bind a token to one rig. Operators may move it; other users
// only watch.
type RigClaims struct {
	jwt.StandardClaims
	Operator bool `json:"op,omitempty"`
}

// signingSecret returns the configured secret. Without one, debug builds get
// a random secret that lives as long as the process.
func signingSecret(configured string, debug bool) ([]byte, error) {
	if len(configured) >= minSecretLen {
		return []byte(configured), nil
	}
	if !debug {
		return nil, ErrNoSecret
	}
	secret := make([]byte, minSecretLen)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	ENV.Log.Warn("no usable COPIS_JWT_SECRET, tokens will not survive a restart")
	return []byte(base64.StdEncoding.EncodeToString(secret)), nil
}

//---
// Payloads
//---

type LoginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (l *LoginPayload) Bind(r *http.Request) error {
	if l.Email == "" {
		return errors.New("email is required")
	}
	return nil
}

type JWTPayload struct {
	SignedToken string `json:"token"`
	Operator    bool   `json:"operator"`
}

// newJWT signs a token for email on this rig.
func newJWT(email string, operator bool) (string, error) {
	now := time.Now().UTC()
	claims := RigClaims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    ENV.JWT_ISSUER,
			Audience:  ENV.JWT_ISSUER,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(ENV.JWT_LIFESPAN).Unix(),
			Subject:   email,
		},
		Operator: operator,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(ENV.jwtSecret)
}

func parseJWT(tokenStr string) (*RigClaims, error) {
	claims := new(RigClaims)
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return ENV.jwtSecret, nil
	})
	if err != nil {
		var verr *jwt.ValidationError
		if errors.As(err, &verr) && verr.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, errExpired
		}
		return nil, errBadToken
	}
	if !claims.VerifyAudience(ENV.JWT_ISSUER, true) {
		return nil, errOtherRig
	}
	return claims, nil
}

//---
// Views
//---

// Login checks a user's password and hands back a token for this rig.
func Login(w http.ResponseWriter, r *http.Request) {
	data := &LoginPayload{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	user, err := ENV.DB.UserByEmail(data.Email)
	if err != nil {
		if errors.Is(err, storm.ErrNotFound) {
			render.Render(w, r, ErrNotFound)
			return
		}
		render.Render(w, r, ErrRender(err))
		return
	}

	if err := user.VerifyPassword([]byte(data.Password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			ENV.Log.WithField("user", user.Email).Warn("login refused")
			render.Render(w, r, ErrPermissionDenied(errors.New("Invalid password")))
			return
		}
		render.Render(w, r, ErrRender(err))
		return
	}

	ts, err := newJWT(user.Email, user.Admin)
	if err != nil {
		render.Render(w, r, ErrRender(err))
		return
	}

	ENV.Log.WithField("user", user.Email).WithField("operator", user.Admin).Info("login")
	render.JSON(w, r, JWTPayload{ts, user.Admin})
}

// JWTRefresh reissues the caller's token. The user is read again so a
// removed account or a lost operator flag takes effect.
func JWTRefresh(w http.ResponseWriter, r *http.Request) {
	claims, ok := r.Context().Value(claimsKey).(*RigClaims)
	if !ok {
		render.Render(w, r, ErrUnauthorized(JWTEmpty))
		return
	}

	user, err := ENV.DB.UserByEmail(claims.Subject)
	if err != nil {
		if errors.Is(err, storm.ErrNotFound) {
			render.Render(w, r, ErrUnauthorized(errBadToken))
			return
		}
		render.Render(w, r, ErrRender(err))
		return
	}

	ts, err := newJWT(user.Email, user.Admin)
	if err != nil {
		render.Render(w, r, ErrRender(err))
		return
	}
	render.JSON(w, r, JWTPayload{ts, user.Admin})
}

//---
// Middleware
//---

// tokenFrom looks for a token in the query, then the Authorization header,
// then the jwt cookie. Browsers cannot set headers on a websocket upgrade.
func tokenFrom(r *http.Request) string {
	if ts := r.URL.Query().Get("jwt"); ts != "" {
		return ts
	}
	bearer := r.Header.Get("Authorization")
	if len(bearer) > 7 && strings.ToUpper(bearer[0:6]) == "BEARER" {
		return bearer[7:]
	}
	if cookie, err := r.Cookie("jwt"); err == nil {
		return cookie.Value
	}
	return ""
}

func ValidateJWT(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts := tokenFrom(r)
		if ts == "" {
			render.Render(w, r, ErrUnauthorized(JWTEmpty))
			return
		}

		claims, err := parseJWT(ts)
		if err != nil {
			render.Render(w, r, ErrUnauthorized(err))
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireOperator guards the routes that move the rig or change its
// connection. Debug mode runs without tokens and lets everything through.
func RequireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ENV.DEBUG {
			next.ServeHTTP(w, r)
			return
		}
		claims, ok := r.Context().Value(claimsKey).(*RigClaims)
		if !ok {
			render.Render(w, r, ErrUnauthorized(JWTEmpty))
			return
		}
		if !claims.Operator {
			ENV.Log.WithField("user", claims.Subject).WithField("path", r.URL.Path).Warn("operator route refused")
			render.Render(w, r, ErrPermissionDenied(errNotOperator))
			return
		}
		next.ServeHTTP(w, r)
	})
}
