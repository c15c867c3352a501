// Package auth implements the Authorization Engine (AUTH): identity
// resolution from a bearer session token, permission-implication evaluation,
// and session issuance/refresh, per spec §4.2.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/reviewdeck/core/internal/apperr"
	"github.com/reviewdeck/core/internal/cstore"
	"github.com/reviewdeck/core/internal/domain/permission"
	"github.com/reviewdeck/core/pkg/logger"
)

// Claims is the JWT payload carried by a session's bearer token; the Subject
// is the session id, which is also the row key in the C-STORE sessions table.
type Claims struct {
	jwt.RegisteredClaims
}

// Identity is the resolved actor on whose behalf a request is made.
type Identity struct {
	Username  string
	Groups    []string
	Expiry    time.Time
	Anonymous bool // true only in the anonymous-SUPERUSER mode
}

// Config controls session lifetime and anonymous-access behavior.
type Config struct {
	JWTSecret       string
	IdleTimeout     time.Duration
	AbsoluteTimeout time.Duration
	AnonymousMode   bool
	RedisAddr       string
}

// Engine is the AUTH component.
type Engine struct {
	store  cstore.Store
	cfg    Config
	cache  *sessionCache
	log    *logger.Logger
	secret []byte
}

// New builds an Engine backed by the given C-STORE handle.
func New(store cstore.Store, cfg Config, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.AbsoluteTimeout <= 0 {
		cfg.AbsoluteTimeout = 12 * time.Hour
	}
	return &Engine{
		store:  store,
		cfg:    cfg,
		cache:  newSessionCache(cfg.RedisAddr, cfg.IdleTimeout),
		log:    log,
		secret: []byte(cfg.JWTSecret),
	}
}

// Login authenticates a username/password pair and issues a new session,
// returning its bearer token and the session record.
func (e *Engine) Login(ctx context.Context, username, password string) (string, cstore.Session, error) {
	username = strings.TrimSpace(username)
	user, err := e.store.GetUser(ctx, username)
	if err != nil {
		return "", cstore.Session{}, apperr.Unauthorizedf("invalid credentials")
	}
	if !VerifyPassword(user.PasswordHash, password) {
		return "", cstore.Session{}, apperr.Unauthorizedf("invalid credentials")
	}

	id, err := randomID()
	if err != nil {
		return "", cstore.Session{}, apperr.Fatalf("generate session id: %v", err)
	}
	now := time.Now().UTC()
	sess := cstore.Session{
		ID:         id,
		Username:   username,
		IssuedAt:   now,
		LastUsedAt: now,
		ExpiresAt:  now.Add(e.cfg.IdleTimeout),
	}
	sess, err = e.store.CreateSession(ctx, sess)
	if err != nil {
		return "", cstore.Session{}, err
	}

	token, err := e.signToken(sess, now.Add(e.cfg.AbsoluteTimeout))
	if err != nil {
		return "", cstore.Session{}, apperr.Fatalf("sign session token: %v", err)
	}
	return token, sess, nil
}

// Logout invalidates a session.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	e.cache.invalidate(ctx, sessionID)
	return e.store.DeleteSession(ctx, sessionID)
}

// SessionIDFromToken extracts the session id carried by a bearer token's
// subject claim, for callers (DISP's logout endpoint) that only have the raw
// token and need the C-STORE row key.
func (e *Engine) SessionIDFromToken(bearerToken string) (string, error) {
	return e.verifyToken(bearerToken)
}

// Resolve validates a bearer token, enforces idle/absolute timeouts, refreshes
// the session's last-used-at on use, and returns the caller's Identity. In
// AnonymousMode a synthetic SUPERUSER identity is returned regardless of
// token, per spec §4.2.
func (e *Engine) Resolve(ctx context.Context, bearerToken string) (Identity, error) {
	if e.cfg.AnonymousMode {
		return Identity{Username: "anonymous", Anonymous: true, Expiry: time.Now().Add(24 * time.Hour)}, nil
	}

	sessionID, err := e.verifyToken(bearerToken)
	if err != nil {
		return Identity{}, apperr.Unauthorizedf("invalid session token")
	}

	sess, cached := e.cache.get(ctx, sessionID)
	if !cached {
		sess, err = e.store.GetSession(ctx, sessionID)
		if err != nil {
			return Identity{}, apperr.Unauthorizedf("session not found")
		}
	}

	now := time.Now().UTC()
	if now.After(sess.ExpiresAt) {
		return Identity{}, apperr.Unauthorizedf("session expired")
	}
	if now.Sub(sess.IssuedAt) > e.cfg.AbsoluteTimeout {
		return Identity{}, apperr.Unauthorizedf("session exceeded absolute timeout")
	}

	newExpiry := now.Add(e.cfg.IdleTimeout)
	if err := e.store.TouchSession(ctx, sessionID, now, newExpiry); err != nil {
		e.log.WithField("session", sessionID).Warnf("refresh session: %v", err)
	}
	sess.LastUsedAt = now
	sess.ExpiresAt = newExpiry
	e.cache.set(ctx, sess)

	groups, err := e.store.GroupsForUser(ctx, sess.Username)
	if err != nil {
		groups = nil
	}
	return Identity{Username: sess.Username, Groups: groups, Expiry: newExpiry}, nil
}

// Check evaluates whether id holds 'want' on scope, per spec §4.2: the union
// of direct grants, group grants, and implied permissions.
func (e *Engine) Check(ctx context.Context, id Identity, want permission.Name, scope permission.Scope) (bool, error) {
	if id.Anonymous {
		return true, nil // synthetic SUPERUSER identity implies everything.
	}

	held, err := e.heldPermissions(ctx, id)
	if err != nil {
		return false, err
	}

	for _, h := range held {
		if h.name == permission.Superuser {
			return true, nil // implies every product-scoped permission on every product.
		}
	}

	for _, g := range held {
		if g.scope != scope {
			continue
		}
		if permission.Implies(g.name, want) {
			return true, nil
		}
	}
	return false, nil
}

type heldGrant struct {
	name  permission.Name
	scope permission.Scope
}

func (e *Engine) heldPermissions(ctx context.Context, id Identity) ([]heldGrant, error) {
	direct, err := e.store.ListGrantsForGrantee(ctx, permission.GranteeUser, id.Username)
	if err != nil {
		return nil, err
	}
	var out []heldGrant
	for _, g := range direct {
		out = append(out, heldGrant{name: g.Permission, scope: g.Scope})
	}
	for _, group := range id.Groups {
		grants, err := e.store.ListGrantsForGrantee(ctx, permission.GranteeGroup, group)
		if err != nil {
			return nil, err
		}
		for _, g := range grants {
			out = append(out, heldGrant{name: g.Permission, scope: g.Scope})
		}
	}
	return out, nil
}

func (e *Engine) signToken(sess cstore.Session, absoluteExpiry time.Time) (string, error) {
	if len(e.secret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sess.ID,
			IssuedAt:  jwt.NewNumericDate(sess.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(absoluteExpiry),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(e.secret)
}

func (e *Engine) verifyToken(tokenString string) (string, error) {
	if len(e.secret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return e.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return "", errors.New("invalid token")
	}
	return claims.Subject, nil
}

func randomID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
