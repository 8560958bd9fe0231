// Package session holds the ephemeral state of the text wizards: one row
// per (user, channel, flow type), superseded on restart and expiring a few
// minutes after the last answer.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TTL is the sliding expiry: every answer buys the session another window.
const TTL = 5 * time.Minute

var ErrUnknownFlow = errors.New("unknown wizard flow")

type Key struct {
	UserID    string
	ChannelID string
	Type      string
}

type Session struct {
	UserID    string
	GuildID   string
	ChannelID string
	Type      string
	Step      string
	Data      map[string]string
	ExpiresAt time.Time
}

func (s *Session) Key() Key {
	return Key{UserID: s.UserID, ChannelID: s.ChannelID, Type: s.Type}
}

type Store interface {
	Upsert(ctx context.Context, s *Session) error
	Get(ctx context.Context, key Key) (*Session, error)
	ByUserChannel(ctx context.Context, userID, channelID string) ([]Session, error)
	Update(ctx context.Context, key Key, step string, data map[string]string, expiresAt time.Time) error
	Delete(ctx context.Context, key Key) error
	DeleteAll(ctx context.Context, userID, channelID string) error
}

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Start opens a fresh session at the flow's first step, superseding any
// previous session with the same key.
func (s *Service) Start(ctx context.Context, userID, guildID, channelID, flowType string, data map[string]string) (*Session, error) {
	flow, ok := Flows[flowType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFlow, flowType)
	}
	if data == nil {
		data = map[string]string{}
	}

	sess := &Session{
		UserID:    userID,
		GuildID:   guildID,
		ChannelID: channelID,
		Type:      flowType,
		Step:      flow.First(),
		Data:      data,
		ExpiresAt: s.now().Add(TTL),
	}
	if err := s.store.Upsert(ctx, sess); err != nil {
		return nil, fmt.Errorf("upsert session: %w", err)
	}
	return sess, nil
}

// Get returns the live session for the key, or nil. Expired sessions are
// reaped on sight.
func (s *Service) Get(ctx context.Context, key Key) (*Session, error) {
	sess, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}
	if s.now().After(sess.ExpiresAt) {
		_ = s.store.Delete(ctx, key)
		return nil, nil
	}
	return sess, nil
}

// Any returns whichever live session the user has in the channel, if any.
// A user runs at most a handful of wizards, so scanning is fine.
func (s *Service) Any(ctx context.Context, userID, channelID string) (*Session, error) {
	sessions, err := s.store.ByUserChannel(ctx, userID, channelID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i := range sessions {
		if now.Before(sessions[i].ExpiresAt) {
			return &sessions[i], nil
		}
	}
	return nil, nil
}

// Advance stores the updated data bag and moves the session to the next
// step of its flow. On the last step the session is deleted and done=true
// is returned.
func (s *Service) Advance(ctx context.Context, sess *Session, data map[string]string) (done bool, err error) {
	flow, ok := Flows[sess.Type]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownFlow, sess.Type)
	}

	if data != nil {
		sess.Data = data
	}
	next, ok := flow.Next(sess.Step)
	if !ok {
		if err := s.store.Delete(ctx, sess.Key()); err != nil {
			return false, err
		}
		return true, nil
	}

	sess.Step = next
	sess.ExpiresAt = s.now().Add(TTL)
	if err := s.store.Update(ctx, sess.Key(), sess.Step, sess.Data, sess.ExpiresAt); err != nil {
		return false, fmt.Errorf("update session: %w", err)
	}
	return false, nil
}

// SetStep pins the session to an explicit step, for wizards that loop or
// branch on invalid input.
func (s *Service) SetStep(ctx context.Context, sess *Session, step string, data map[string]string) error {
	if data != nil {
		sess.Data = data
	}
	sess.Step = step
	sess.ExpiresAt = s.now().Add(TTL)
	return s.store.Update(ctx, sess.Key(), step, sess.Data, sess.ExpiresAt)
}

func (s *Service) Delete(ctx context.Context, key Key) error {
	return s.store.Delete(ctx, key)
}

func (s *Service) DeleteAll(ctx context.Context, userID, channelID string) error {
	return s.store.DeleteAll(ctx, userID, channelID)
}
