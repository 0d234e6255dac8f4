package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/user/llm-proxy-go/internal/models"
	"github.com/user/llm-proxy-go/internal/repository"
	"go.uber.org/zap"
)

// ProfileStore holds the in-memory snapshot of configured profiles
// behind a RWMutex, so request-handling goroutines read a consistent
// view while control-plane calls mutate it. Writes go to the repository
// first; the in-memory map is only updated once the write commits.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]*models.Profile
	activeID string

	repo   repository.ProfileRepository
	logger *zap.Logger
}

// NewProfileStore creates an empty store. Call Load to populate it.
func NewProfileStore(repo repository.ProfileRepository, logger *zap.Logger) *ProfileStore {
	return &ProfileStore{
		profiles: make(map[string]*models.Profile),
		repo:     repo,
		logger:   logger,
	}
}

// Load replaces the in-memory snapshot with the repository's contents.
func (s *ProfileStore) Load(ctx context.Context) error {
	all, err := s.repo.FindAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load profiles: %w", err)
	}

	next := make(map[string]*models.Profile, len(all))
	activeID := ""
	for _, p := range all {
		next[p.ID] = p
		if p.IsActive {
			activeID = p.ID
		}
	}

	s.mu.Lock()
	s.profiles = next
	s.activeID = activeID
	s.mu.Unlock()
	return nil
}

// GetActive returns a clone of the currently active profile, or nil if
// none is active. Exactly one profile can be active at a time.
func (s *ProfileStore) GetActive() *models.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeID == "" {
		return nil
	}
	return s.profiles[s.activeID].Clone()
}

// Get returns a clone of the profile with the given id.
func (s *ProfileStore) Get(id string) *models.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profiles[id].Clone()
}

// List returns clones of every configured profile.
func (s *ProfileStore) List() []*models.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p.Clone())
	}
	return out
}

// Create persists a new profile and adds it to the in-memory snapshot.
func (s *ProfileStore) Create(ctx context.Context, p *models.Profile) error {
	if err := s.repo.Insert(ctx, p); err != nil {
		return err
	}
	s.mu.Lock()
	s.profiles[p.ID] = p.Clone()
	s.mu.Unlock()
	return nil
}

// Update persists changes to an existing profile.
func (s *ProfileStore) Update(ctx context.Context, p *models.Profile) error {
	if err := s.repo.Update(ctx, p); err != nil {
		return err
	}
	s.mu.Lock()
	if existing, ok := s.profiles[p.ID]; ok {
		p.IsActive = existing.IsActive
	}
	s.profiles[p.ID] = p.Clone()
	s.mu.Unlock()
	return nil
}

// Delete removes a profile. Deleting the active profile leaves no
// profile active until Activate is called again.
func (s *ProfileStore) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.profiles, id)
	if s.activeID == id {
		s.activeID = ""
	}
	s.mu.Unlock()
	return nil
}

// Activate marks id as the sole active profile.
func (s *ProfileStore) Activate(ctx context.Context, id string) error {
	s.mu.RLock()
	_, exists := s.profiles[id]
	s.mu.RUnlock()
	if !exists {
		return fmt.Errorf("profile %s not found", id)
	}

	if err := s.repo.Activate(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	for pid, p := range s.profiles {
		active := pid == id
		if p.IsActive != active {
			cp := p.Clone()
			cp.IsActive = active
			s.profiles[pid] = cp
		}
	}
	s.activeID = id
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Info("activated profile", zap.String("profile_id", id))
	}
	return nil
}
