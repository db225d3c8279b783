package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"warden/internal/domain"
	idstore "warden/internal/identity/store"
)

// ============================================================
// Suite
// ============================================================

type WorkerSuite struct {
	suite.Suite
	ctx    context.Context
	idents *idstore.MemoryIdentities
	worker *Worker
}

func TestWorkerSuite(t *testing.T) {
	suite.Run(t, new(WorkerSuite))
}

func (s *WorkerSuite) SetupTest() {
	s.ctx = context.Background()
	s.idents = idstore.NewMemoryIdentities()
	s.worker = NewWorker(s.idents, WithOwner("worker-a"))
	for _, id := range []string{"ident-1", "ident-2", "ident-3"} {
		s.Require().NoError(s.idents.Save(s.ctx, &domain.Identity{ID: id, Name: id}))
	}
}

// ============================================================
// Processing
// ============================================================

func (s *WorkerSuite) TestProcessesEveryIdentity() {
	var mu sync.Mutex
	seen := map[string]int{}

	err := s.worker.Process(s.ctx, []string{"ident-1", "ident-2", "ident-3"},
		func(ctx context.Context, id string) error {
			mu.Lock()
			defer mu.Unlock()
			seen[id]++
			return nil
		})
	s.Require().NoError(err)
	s.Equal(map[string]int{"ident-1": 1, "ident-2": 1, "ident-3": 1}, seen)
}

func (s *WorkerSuite) TestHoldsLockDuringWork() {
	err := s.worker.Process(s.ctx, []string{"ident-1"},
		func(ctx context.Context, id string) error {
			identity, err := s.idents.Get(ctx, id)
			s.Require().NoError(err)
			s.Require().NotNil(identity.LockOwner)
			s.Equal("worker-a", *identity.LockOwner)
			return nil
		})
	s.Require().NoError(err)

	identity, err := s.idents.Get(s.ctx, "ident-1")
	s.Require().NoError(err)
	s.Nil(identity.LockOwner)
}

func (s *WorkerSuite) TestSkipsIdentitiesLockedElsewhere() {
	s.Require().NoError(s.idents.Lock(s.ctx, "ident-2", "worker-b"))

	var mu sync.Mutex
	var seen []string
	err := s.worker.Process(s.ctx, []string{"ident-1", "ident-2", "ident-3"},
		func(ctx context.Context, id string) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, id)
			return nil
		})
	s.Require().NoError(err)
	s.ElementsMatch([]string{"ident-1", "ident-3"}, seen)

	// The foreign lock survives the run.
	identity, err := s.idents.Get(s.ctx, "ident-2")
	s.Require().NoError(err)
	s.Require().NotNil(identity.LockOwner)
	s.Equal("worker-b", *identity.LockOwner)
}

func (s *WorkerSuite) TestWorkErrorFailsBatchAndUnlocks() {
	boom := errors.New("boom")
	err := s.worker.Process(s.ctx, []string{"ident-1"},
		func(ctx context.Context, id string) error { return boom })
	s.Require().ErrorIs(err, boom)
	s.Contains(err.Error(), "ident-1")

	identity, err := s.idents.Get(s.ctx, "ident-1")
	s.Require().NoError(err)
	s.Nil(identity.LockOwner)
}

func (s *WorkerSuite) TestUnknownIdentityFailsBatch() {
	err := s.worker.Process(s.ctx, []string{"ident-1", "ghost"},
		func(ctx context.Context, id string) error { return nil })
	s.Require().Error(err)
	s.Contains(err.Error(), "ghost")
}

func (s *WorkerSuite) TestWorkerLimitIsRespected() {
	worker := NewWorker(s.idents, WithOwner("worker-a"), WithWorkers(1))

	var mu sync.Mutex
	running, peak := 0, 0
	err := worker.Process(s.ctx, []string{"ident-1", "ident-2", "ident-3"},
		func(ctx context.Context, id string) error {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()
			defer func() {
				mu.Lock()
				running--
				mu.Unlock()
			}()
			return nil
		})
	s.Require().NoError(err)
	s.Equal(1, peak)
}
