// Package notify implements the supplemented "notifications" feature of
// SPEC_FULL.md §3.1: server-generated, per-user informational records,
// served over plain poll-based RPCs and pushed to connected clients over a
// WebSocket fan-out.
package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/reviewdeck/core/internal/cstore"
	"github.com/reviewdeck/core/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Service generates notification rows and fans them out over WebSocket to
// any connected subscribers for the target username.
type Service struct {
	store cstore.NotificationStore
	log   *logger.Logger

	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

type subscriber struct {
	send chan cstore.Notification
}

// New builds a notification service backed by the given C-STORE table.
func New(store cstore.NotificationStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("notify")
	}
	return &Service{
		store: store,
		log:   log,
		subs:  make(map[string]map[*subscriber]struct{}),
	}
}

// Notify persists a notification for username and pushes it to any live
// WebSocket subscribers.
func (s *Service) Notify(ctx context.Context, username, body string) (cstore.Notification, error) {
	n := cstore.Notification{
		ID:        uuid.NewString(),
		Username:  username,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	n, err := s.store.CreateNotification(ctx, n)
	if err != nil {
		return cstore.Notification{}, err
	}
	s.broadcast(username, n)
	return n, nil
}

// List returns a user's notifications, optionally filtered to unread ones.
func (s *Service) List(ctx context.Context, username string, unreadOnly bool) ([]cstore.Notification, error) {
	return s.store.ListNotifications(ctx, username, unreadOnly)
}

// MarkRead marks the given ids as read for username.
func (s *Service) MarkRead(ctx context.Context, ids []string, username string) error {
	return s.store.MarkRead(ctx, ids, username)
}

func (s *Service) broadcast(username string, n cstore.Notification) {
	s.mu.Lock()
	subs := make([]*subscriber, 0, len(s.subs[username]))
	for sub := range s.subs[username] {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.send <- n:
		default:
			s.log.WithField("user", username).Warn("notification subscriber channel full; dropping")
		}
	}
}

// ServeWS upgrades an HTTP connection to a WebSocket and streams
// notifications for username until the connection closes.
func (s *Service) ServeWS(w http.ResponseWriter, r *http.Request, username string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithField("user", username).Warnf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sub := &subscriber{send: make(chan cstore.Notification, 16)}
	s.addSub(username, sub)
	defer s.removeSub(username, sub)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-sub.send:
			if !ok {
				return
			}
			payload, err := json.Marshal(n)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}

func (s *Service) addSub(username string, sub *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[username] == nil {
		s.subs[username] = make(map[*subscriber]struct{})
	}
	s.subs[username][sub] = struct{}{}
}

func (s *Service) removeSub(username string, sub *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs[username], sub)
	if len(s.subs[username]) == 0 {
		delete(s.subs, username)
	}
}
