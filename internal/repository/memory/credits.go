package memory

import (
	"context"
	"sync"
	"time"

	"photorestore/internal/models"
	"photorestore/internal/repository"
)

type Credits struct {
	mu   sync.Mutex
	now  func() time.Time
	rows map[string]models.UserCredits
}

func NewCredits(now func() time.Time) *Credits {
	if now == nil {
		now = time.Now
	}
	return &Credits{now: now, rows: make(map[string]models.UserCredits)}
}

// Seed sets a user's balance directly.
func (s *Credits) Seed(userID string, credits int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.ensure(userID)
	row.Credits = credits
	s.rows[userID] = row
}

func (s *Credits) ensure(userID string) models.UserCredits {
	row, ok := s.rows[userID]
	if !ok {
		now := s.now()
		row = models.UserCredits{UserID: userID, CreatedAt: now, UpdatedAt: now}
		s.rows[userID] = row
	}
	return row
}

func (s *Credits) Get(_ context.Context, userID string) (models.UserCredits, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensure(userID), nil
}

func (s *Credits) Deduct(_ context.Context, userID string, amount int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[userID]
	if !ok || row.Credits < amount {
		return 0, repository.ErrInsufficientCredits
	}
	row.Credits -= amount
	row.UpdatedAt = s.now()
	s.rows[userID] = row
	return row.Credits, nil
}

func (s *Credits) Add(_ context.Context, userID string, amount int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(userID, amount), nil
}

func (s *Credits) addLocked(userID string, amount int) int {
	row := s.ensure(userID)
	row.Credits += amount
	row.UpdatedAt = s.now()
	s.rows[userID] = row
	return row.Credits
}

func (s *Credits) UpdateStreak(_ context.Context, u repository.StreakUpdate) (models.UserCredits, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[u.UserID]
	if !ok || !sameDay(row.LastActivityDate, u.ExpectedLast) {
		return models.UserCredits{}, repository.ErrConflict
	}
	day := u.Day
	row.CurrentStreak = u.Streak
	if u.CheckpointLevel > row.CheckpointLevel {
		row.CheckpointLevel = u.CheckpointLevel
	}
	row.LastActivityDate = &day
	row.UpdatedAt = s.now()
	s.rows[u.UserID] = row
	return row, nil
}

func (s *Credits) ClaimMilestone(_ context.Context, userID string, milestone models.Milestone) (models.UserCredits, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[userID]
	if !ok || row.CheckpointLevel < milestone.Days || row.Claimed(milestone.Days) {
		return models.UserCredits{}, repository.ErrMilestoneUnavailable
	}
	switch milestone.Days {
	case 3:
		row.Day3Claimed = true
	case 7:
		row.Day7Claimed = true
	case 14:
		row.Day14Claimed = true
	case 30:
		row.Day30Claimed = true
	default:
		return models.UserCredits{}, repository.ErrMilestoneUnavailable
	}
	row.Credits += milestone.Reward
	row.UpdatedAt = s.now()
	s.rows[userID] = row
	return row, nil
}

func sameDay(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
