package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapStore is a minimal in-package Store for driving the service with a
// fake clock.
type mapStore struct {
	sessions map[Key]Session
}

func newMapStore() *mapStore {
	return &mapStore{sessions: make(map[Key]Session)}
}

func (s *mapStore) Upsert(ctx context.Context, sess *Session) error {
	s.sessions[sess.Key()] = *sess
	return nil
}

func (s *mapStore) Get(ctx context.Context, key Key) (*Session, error) {
	sess, ok := s.sessions[key]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

func (s *mapStore) ByUserChannel(ctx context.Context, userID, channelID string) ([]Session, error) {
	var out []Session
	for key, sess := range s.sessions {
		if key.UserID == userID && key.ChannelID == channelID {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (s *mapStore) Update(ctx context.Context, key Key, step string, data map[string]string, expiresAt time.Time) error {
	sess := s.sessions[key]
	sess.Step = step
	sess.Data = data
	sess.ExpiresAt = expiresAt
	s.sessions[key] = sess
	return nil
}

func (s *mapStore) Delete(ctx context.Context, key Key) error {
	delete(s.sessions, key)
	return nil
}

func (s *mapStore) DeleteAll(ctx context.Context, userID, channelID string) error {
	for key := range s.sessions {
		if key.UserID == userID && key.ChannelID == channelID {
			delete(s.sessions, key)
		}
	}
	return nil
}

func newTestService(t *testing.T) (*Service, *mapStore, *time.Time) {
	t.Helper()
	store := newMapStore()
	svc := NewService(store)
	now := time.Now().UTC()
	svc.now = func() time.Time { return now }
	return svc, store, &now
}

func TestStartUsesFirstStep(t *testing.T) {
	svc, _, _ := newTestService(t)

	sess, err := svc.Start(context.Background(), "u1", "g1", "c1", TypeAddProduct, nil)
	require.NoError(t, err)
	assert.Equal(t, "name", sess.Step)
	assert.NotNil(t, sess.Data)
}

func TestStartUnknownFlow(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Start(context.Background(), "u1", "g1", "c1", "nonsense", nil)
	assert.ErrorIs(t, err, ErrUnknownFlow)
}

func TestStartSupersedesExistingSession(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Start(ctx, "u1", "g1", "c1", TypeAddProduct, map[string]string{"name": "old"})
	require.NoError(t, err)
	_, err = svc.Advance(ctx, first, first.Data)
	require.NoError(t, err)

	restarted, err := svc.Start(ctx, "u1", "g1", "c1", TypeAddProduct, nil)
	require.NoError(t, err)
	assert.Equal(t, "name", restarted.Step, "restart begins at the first step again")

	got, err := svc.Get(ctx, restarted.Key())
	require.NoError(t, err)
	assert.Empty(t, got.Data["name"], "old answers do not leak into the new session")
}

func TestGetReapsExpired(t *testing.T) {
	svc, store, now := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Start(ctx, "u1", "g1", "c1", TypeBuy, nil)
	require.NoError(t, err)

	*now = now.Add(TTL + time.Second)

	got, err := svc.Get(ctx, sess.Key())
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, store.sessions, "expired session is deleted on sight")
}

func TestAdvanceWalksStepsAndFinishes(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Start(ctx, "u1", "g1", "c1", TypeBuy, nil)
	require.NoError(t, err)
	require.Equal(t, "select_product", sess.Step)

	sess.Data["select_product"] = "PROD-1234"
	done, err := svc.Advance(ctx, sess, sess.Data)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, "quantity", sess.Step)

	sess.Data["quantity"] = "2"
	done, err = svc.Advance(ctx, sess, sess.Data)
	require.NoError(t, err)
	assert.True(t, done, "last step completes the wizard")

	got, err := svc.Get(ctx, sess.Key())
	require.NoError(t, err)
	assert.Nil(t, got, "completed session is gone")
}

func TestAdvanceExtendsExpiry(t *testing.T) {
	svc, _, now := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Start(ctx, "u1", "g1", "c1", TypeSetup, nil)
	require.NoError(t, err)
	firstDeadline := sess.ExpiresAt

	*now = now.Add(3 * time.Minute)
	sess.Data["ltc_address"] = "ltc1qexample"
	_, err = svc.Advance(ctx, sess, sess.Data)
	require.NoError(t, err)

	assert.True(t, sess.ExpiresAt.After(firstDeadline), "every answer buys more time")
}

func TestAnyFindsLiveSessionOnly(t *testing.T) {
	svc, _, now := newTestService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, "u1", "g1", "c1", TypeSold, nil)
	require.NoError(t, err)

	got, err := svc.Any(ctx, "u1", "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, TypeSold, got.Type)

	*now = now.Add(TTL + time.Second)
	got, err = svc.Any(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSetStepPinsStep(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Start(ctx, "u1", "g1", "c1", TypeEditProduct, nil)
	require.NoError(t, err)

	require.NoError(t, svc.SetStep(ctx, sess, "value", map[string]string{"field": "name"}))
	assert.Equal(t, "value", sess.Step)

	got, err := svc.Get(ctx, sess.Key())
	require.NoError(t, err)
	assert.Equal(t, "value", got.Step)
	assert.Equal(t, "name", got.Data["field"])
}

func TestFlowNext(t *testing.T) {
	flow := Flows[TypeAddProduct]

	next, ok := flow.Next("name")
	assert.True(t, ok)
	assert.Equal(t, "description", next)

	_, ok = flow.Next("image")
	assert.False(t, ok, "last step has no successor")

	_, ok = flow.Next("bogus")
	assert.False(t, ok)

	assert.True(t, flow.Last("image"))
	assert.False(t, flow.Last("name"))
}
