package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"photorestore/internal/metrics"
	"photorestore/internal/models"
	"photorestore/internal/repository"
)

const streakRetries = 3

type CreditService struct {
	credits CreditStore
	log     zerolog.Logger
	now     func() time.Time
}

func NewCreditService(credits CreditStore, log zerolog.Logger) *CreditService {
	return &CreditService{
		credits: credits,
		log:     log,
		now:     time.Now,
	}
}

func (s *CreditService) Get(ctx context.Context, userID string) (models.UserCredits, error) {
	if userID == "" {
		return models.UserCredits{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.credits.Get(ctx, userID)
}

// Deduct removes amount from the balance, or fails with
// repository.ErrInsufficientCredits leaving the balance unchanged.
func (s *CreditService) Deduct(ctx context.Context, userID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	balance, err := s.credits.Deduct(ctx, userID, amount)
	metrics.RecordCreditMutation("deduct", err)
	if err != nil {
		return 0, err
	}
	s.log.Debug().Str("user_id", userID).Int("amount", amount).Int("balance", balance).Msg("credits deducted")
	return balance, nil
}

// Refund adds amount unconditionally.
func (s *CreditService) Refund(ctx context.Context, userID string, amount int) (int, error) {
	if amount < 0 {
		return 0, fmt.Errorf("%w: amount must not be negative", ErrInvalidInput)
	}
	balance, err := s.credits.Add(ctx, userID, amount)
	metrics.RecordCreditMutation("refund", err)
	if err != nil {
		return 0, err
	}
	s.log.Debug().Str("user_id", userID).Int("amount", amount).Int("balance", balance).Msg("credits refunded")
	return balance, nil
}

// ValidateForOperation reports repository.ErrInsufficientCredits when the
// balance cannot cover required.
func (s *CreditService) ValidateForOperation(ctx context.Context, userID string, required int) (int, error) {
	if required < 0 {
		return 0, fmt.Errorf("%w: required must not be negative", ErrInvalidInput)
	}
	row, err := s.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	if row.Credits < required {
		return row.Credits, repository.ErrInsufficientCredits
	}
	return row.Credits, nil
}

// RecordActivity advances the daily streak for the given calendar day. Repeat
// calls on the same day are no-ops; a missed day resets the streak to one.
func (s *CreditService) RecordActivity(ctx context.Context, userID string, day time.Time) (models.UserCredits, error) {
	if day.IsZero() {
		day = s.now()
	}
	day = truncateDay(day)

	for attempt := 0; attempt < streakRetries; attempt++ {
		row, err := s.Get(ctx, userID)
		if err != nil {
			return models.UserCredits{}, err
		}

		streak := 1
		if last := row.LastActivityDate; last != nil {
			prev := truncateDay(*last)
			switch {
			case prev.Equal(day):
				return row, nil
			case prev.After(day):
				return row, nil
			case prev.AddDate(0, 0, 1).Equal(day):
				streak = row.CurrentStreak + 1
			}
		}

		updated, err := s.credits.UpdateStreak(ctx, repository.StreakUpdate{
			UserID:          userID,
			ExpectedLast:    row.LastActivityDate,
			Day:             day,
			Streak:          streak,
			CheckpointLevel: models.CheckpointFor(streak),
		})
		if errors.Is(err, repository.ErrConflict) {
			continue
		}
		if err != nil {
			return models.UserCredits{}, err
		}
		return updated, nil
	}
	return models.UserCredits{}, repository.ErrConflict
}

// ClaimMilestone grants the reward for a reached, unclaimed milestone.
func (s *CreditService) ClaimMilestone(ctx context.Context, userID string, days int) (models.UserCredits, error) {
	milestone, ok := models.MilestoneFor(days)
	if !ok {
		return models.UserCredits{}, fmt.Errorf("%w: no milestone for day %d", ErrInvalidInput, days)
	}
	// Make sure the row exists so a missing row reads as "not reached".
	if _, err := s.Get(ctx, userID); err != nil {
		return models.UserCredits{}, err
	}
	row, err := s.credits.ClaimMilestone(ctx, userID, milestone)
	metrics.RecordCreditMutation("milestone", err)
	if err != nil {
		return models.UserCredits{}, err
	}
	s.log.Info().Str("user_id", userID).Int("days", days).Int("reward", milestone.Reward).Msg("milestone claimed")
	return row, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
