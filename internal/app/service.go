package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/windorg/woc-sub000/internal/auth"
	"github.com/windorg/woc-sub000/internal/cards"
	"github.com/windorg/woc-sub000/internal/config"
	"github.com/windorg/woc-sub000/internal/inbox"
	"github.com/windorg/woc-sub000/internal/search"
	"github.com/windorg/woc-sub000/internal/store"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	JTI       string
	ExpiresAt time.Time
}

// UserStore is the identity side of the storage backend.
type UserStore interface {
	EnsureUserByName(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	Ping(ctx context.Context) error
}

// Notifier keeps subscriptions and inboxes. Service treats a nil Notifier as
// "notifications disabled".
type Notifier interface {
	Subscribe(ctx context.Context, commentID, userID string) error
	Unsubscribe(ctx context.Context, commentID, userID string) error
	IsSubscribed(ctx context.Context, commentID, userID string) (bool, error)
	ForgetComment(ctx context.Context, commentID string) error
	FanOut(ctx context.Context, n inbox.Notification, exclude string) (int, error)
	Inbox(ctx context.Context, userID string, limit int) ([]inbox.Notification, error)
	Dismiss(ctx context.Context, userID, notificationID string) (bool, error)
	Ping(ctx context.Context) error
}

type Service struct {
	cfg      config.Config
	engine   *cards.Engine
	users    UserStore
	search   *search.Service
	notifier Notifier
	log      zerolog.Logger
	now      func() time.Time
}

func New(cfg config.Config, engine *cards.Engine, users UserStore, searchService *search.Service, notifier Notifier, logger zerolog.Logger) *Service {
	if searchService == nil {
		searchService = search.NewService(nil, nil, logger)
	}
	return &Service{
		cfg:      cfg,
		engine:   engine,
		users:    users,
		search:   searchService,
		notifier: notifier,
		log:      logger.With().Str("component", "app").Logger(),
		now:      time.Now,
	}
}

func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		userName = "User"
	}

	user, err := s.users.EnsureUserByName(ctx, userName)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(user)
}

func (s *Service) issueSession(user store.User) (Session, error) {
	expiresAt := s.now().Add(s.cfg.AccessTTL)
	jti, err := gonanoid.New()
	if err != nil {
		return Session{}, fmt.Errorf("generate token id: %w", err)
	}

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       jti,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}

	user, err := s.users.GetUserByID(ctx, claims.Sub)
	if err != nil {
		if errors.Is(err, cards.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.users.Ping(ctx)
}

// ReadyChecks reports the state of every configured dependency. Only the
// storage backend is required.
func (s *Service) ReadyChecks(ctx context.Context) (bool, map[string]any) {
	ready := true
	checks := map[string]any{}

	if err := s.users.Ping(ctx); err != nil {
		ready = false
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	} else {
		checks["database"] = map[string]any{"status": "ok"}
	}

	if s.notifier != nil {
		if err := s.notifier.Ping(ctx); err != nil {
			checks["redis"] = map[string]any{"status": "degraded", "error": err.Error()}
		} else {
			checks["redis"] = map[string]any{"status": "ok"}
		}
	}

	if s.search.Enabled() {
		checks["search"] = map[string]any{"status": "ok"}
	}
	return ready, checks
}

// withRetry reruns fn while storage reports a serialization conflict. Each
// attempt is a fresh transaction, so partial work is never carried over.
func withRetry[T any](ctx context.Context, s *Service, op string, fn func() (T, error)) (T, error) {
	retries := s.cfg.TxRetries
	if retries < 0 {
		retries = 0
	}
	for attempt := 0; ; attempt++ {
		result, err := fn()
		if err == nil || !errors.Is(err, cards.ErrConflict) || attempt >= retries || ctx.Err() != nil {
			return result, err
		}
		s.log.Debug().Err(err).Str("op", op).Int("attempt", attempt+1).Msg("retrying after conflict")
	}
}
