// Package notification stores per-user in-app notifications and pushes each
// new one to the recipient's websocket topic.
package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medscan/triage/internal/platform/apperr"
)

// Publisher delivers a realtime event to one user. *websocket.Hub satisfies
// it.
type Publisher interface {
	PublishToUser(ctx context.Context, userID uuid.UUID, eventType string, payload interface{}) error
}

// maxMarkRead bounds the ids accepted by a single MarkRead call.
const maxMarkRead = 500

type Service struct {
	repo      Repository
	publisher Publisher
	logger    zerolog.Logger
}

// NewService creates the notification service. publisher may be nil, in
// which case records are stored but not pushed.
func NewService(repo Repository, publisher Publisher, logger zerolog.Logger) *Service {
	return &Service{repo: repo, publisher: publisher, logger: logger}
}

// Create stores a notification for in.UserID and publishes it. A publish
// failure is logged; the stored record is still returned.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Notification, error) {
	if in.UserID == uuid.Nil {
		return nil, apperr.Required("user_id")
	}
	if !in.Type.Valid() {
		return nil, apperr.Invalid("type", "must be a known notification type, got %q", in.Type)
	}
	msg := strings.TrimSpace(in.Message)
	if msg == "" {
		return nil, apperr.Required("message")
	}

	n := &Notification{
		UserID:   in.UserID,
		Type:     in.Type,
		Message:  msg,
		ReportID: in.ReportID,
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishToUser(ctx, n.UserID, EventType, n); err != nil {
			s.logger.Warn().Err(err).
				Str("notification_id", n.ID.String()).
				Str("user_id", n.UserID.String()).
				Msg("notification publish failed")
		}
	}
	return n, nil
}

func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	return s.repo.ListByUser(ctx, userID, unreadOnly, limit, offset)
}

func (s *Service) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}

// MarkRead flags ids as read for userID. Ids that belong to other users are
// ignored. An empty id list marks every unread notification of the user.
func (s *Service) MarkRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int, error) {
	if userID == uuid.Nil {
		return 0, apperr.Required("user_id")
	}
	if len(ids) == 0 {
		return s.repo.MarkAllRead(ctx, userID)
	}
	if len(ids) > maxMarkRead {
		return 0, apperr.Invalid("ids", "at most %d ids per request", maxMarkRead)
	}
	return s.repo.MarkRead(ctx, userID, dedupe(ids))
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
