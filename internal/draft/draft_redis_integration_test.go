//go:build integration

package draft

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"carelink/pkg/platform/sentinel"
	"carelink/pkg/testutil/containers"
)

type DraftStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *Store
}

func TestDraftStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(DraftStoreSuite))
}

func (s *DraftStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.store = NewStore(s.redis.Client, time.Minute)
}

func (s *DraftStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *DraftStoreSuite) TestSaveAndLoad() {
	ctx := context.Background()
	payload := json.RawMessage(`{"client_id":"client-001","service":"PrEP"}`)

	s.Require().NoError(s.store.Save(ctx, "worker-1", FormReferral, payload))

	d, err := s.store.Load(ctx, "worker-1", FormReferral)
	s.Require().NoError(err)
	s.Equal(FormReferral, d.Form)
	s.JSONEq(string(payload), string(d.Payload))
	s.False(d.SavedAt.IsZero())
}

func (s *DraftStoreSuite) TestDraftsAreScopedPerActorAndForm() {
	ctx := context.Background()
	s.Require().NoError(s.store.Save(ctx, "worker-1", FormReferral, json.RawMessage(`{"a":1}`)))

	_, err := s.store.Load(ctx, "worker-2", FormReferral)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.store.Load(ctx, "worker-1", FormFollowUp)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *DraftStoreSuite) TestSaveOverwrites() {
	ctx := context.Background()
	s.Require().NoError(s.store.Save(ctx, "worker-1", FormLinkage, json.RawMessage(`{"facility":"A"}`)))
	s.Require().NoError(s.store.Save(ctx, "worker-1", FormLinkage, json.RawMessage(`{"facility":"B"}`)))

	d, err := s.store.Load(ctx, "worker-1", FormLinkage)
	s.Require().NoError(err)
	s.JSONEq(`{"facility":"B"}`, string(d.Payload))
}

func (s *DraftStoreSuite) TestClear() {
	ctx := context.Background()
	s.Require().NoError(s.store.Save(ctx, "worker-1", FormReferral, json.RawMessage(`{}`)))
	s.Require().NoError(s.store.Clear(ctx, "worker-1", FormReferral))

	_, err := s.store.Load(ctx, "worker-1", FormReferral)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	// Clearing again is a no-op, not an error.
	s.Require().NoError(s.store.Clear(ctx, "worker-1", FormReferral))
}

func (s *DraftStoreSuite) TestRejectsInvalidJSON() {
	ctx := context.Background()
	err := s.store.Save(ctx, "worker-1", FormReferral, json.RawMessage(`{broken`))
	s.Require().Error(err)
}
