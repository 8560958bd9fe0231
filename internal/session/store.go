package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Upsert(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess.Data)
	if err != nil {
		return fmt.Errorf("marshal session data: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO text_sessions (user_id, guild_id, channel_id, session_type, step, data, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, channel_id, session_type) DO UPDATE
		SET guild_id = EXCLUDED.guild_id,
		    step = EXCLUDED.step,
		    data = EXCLUDED.data,
		    expires_at = EXCLUDED.expires_at`,
		sess.UserID, sess.GuildID, sess.ChannelID, sess.Type, sess.Step, data, sess.ExpiresAt,
	)
	return err
}

func (s *PGStore) Get(ctx context.Context, key Key) (*Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx, `
		SELECT user_id, guild_id, channel_id, session_type, step, data, expires_at
		FROM text_sessions
		WHERE user_id = $1 AND channel_id = $2 AND session_type = $3`,
		key.UserID, key.ChannelID, key.Type))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *PGStore) ByUserChannel(ctx context.Context, userID, channelID string) ([]Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, guild_id, channel_id, session_type, step, data, expires_at
		FROM text_sessions
		WHERE user_id = $1 AND channel_id = $2`,
		userID, channelID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var result []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *sess)
	}
	return result, rows.Err()
}

func (s *PGStore) Update(ctx context.Context, key Key, step string, data map[string]string, expiresAt time.Time) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal session data: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE text_sessions
		SET step = $4, data = $5, expires_at = $6
		WHERE user_id = $1 AND channel_id = $2 AND session_type = $3`,
		key.UserID, key.ChannelID, key.Type, step, raw, expiresAt,
	)
	return err
}

func (s *PGStore) Delete(ctx context.Context, key Key) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM text_sessions
		WHERE user_id = $1 AND channel_id = $2 AND session_type = $3`,
		key.UserID, key.ChannelID, key.Type)
	return err
}

func (s *PGStore) DeleteAll(ctx context.Context, userID, channelID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM text_sessions WHERE user_id = $1 AND channel_id = $2`,
		userID, channelID)
	return err
}

func scanSession(row pgx.Row) (*Session, error) {
	var sess Session
	var raw []byte
	if err := row.Scan(&sess.UserID, &sess.GuildID, &sess.ChannelID, &sess.Type, &sess.Step, &raw, &sess.ExpiresAt); err != nil {
		return nil, err
	}
	sess.Data = map[string]string{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &sess.Data); err != nil {
			return nil, fmt.Errorf("decode session data: %w", err)
		}
	}
	return &sess, nil
}
