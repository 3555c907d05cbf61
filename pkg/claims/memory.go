package claims

import (
	"context"
	"sync"
	"time"

	"github.com/marzen/tandem/pkg/models"
)

// MemoryStore implements Store in process memory, for tests and local
// development. Expired claims are treated as released on every read path;
// the janitor additionally sweeps them out on a schedule.
type MemoryStore struct {
	mu     sync.Mutex
	claims map[string]*models.Claim
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory claim store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		claims: make(map[string]*models.Claim),
		now:    time.Now,
	}
}

func (s *MemoryStore) Acquire(_ context.Context, resource, holder string, ttl time.Duration) (*models.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()

	existing, ok := s.claims[resource]
	if ok && !existing.Expired(now) && existing.Holder != holder {
		return nil, NewClaimError("Acquire", resource, ErrClaimHeld)
	}

	claim := &models.Claim{
		Resource:   resource,
		Holder:     holder,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}

	if ok && existing.Holder == holder && !existing.Expired(now) {
		claim.AcquiredAt = existing.AcquiredAt
	}

	s.claims[resource] = claim

	return cloneClaim(claim), nil
}

func (s *MemoryStore) Renew(_ context.Context, resource, holder string, ttl time.Duration) (*models.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()

	existing, ok := s.claims[resource]
	if !ok || !existing.HeldBy(holder, now) {
		return nil, NewClaimError("Renew", resource, ErrClaimNotHeld)
	}

	existing.ExpiresAt = now.Add(ttl)

	return cloneClaim(existing), nil
}

func (s *MemoryStore) Release(_ context.Context, resource, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.claims[resource]
	if !ok || !existing.HeldBy(holder, s.now().UTC()) {
		return NewClaimError("Release", resource, ErrClaimNotHeld)
	}

	delete(s.claims, resource)

	return nil
}

func (s *MemoryStore) Get(_ context.Context, resource string) (*models.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.claims[resource]
	if !ok || existing.Expired(s.now().UTC()) {
		return nil, NewClaimError("Get", resource, ErrClaimNotFound)
	}

	return cloneClaim(existing), nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// Sweep removes expired claims and returns how many were dropped.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	swept := 0

	for resource, claim := range s.claims {
		if claim.Expired(now) {
			delete(s.claims, resource)

			swept++
		}
	}

	return swept
}

// SetClock overrides the time source, for tests.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.now = now
}

func cloneClaim(claim *models.Claim) *models.Claim {
	copied := *claim

	return &copied
}
