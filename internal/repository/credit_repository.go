package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"photorestore/internal/models"
)

const creditColumns = `
	user_id, credits, current_streak, checkpoint_level,
	day3_claimed, day7_claimed, day14_claimed, day30_claimed,
	last_activity_date, created_at, updated_at
`

// addCreditsQuery is shared with purchase fulfillment so both paths increment atomically.
const addCreditsQuery = `
	INSERT INTO user_credits (user_id, credits, created_at, updated_at)
	VALUES ($1, $2, NOW(), NOW())
	ON CONFLICT (user_id) DO UPDATE
	SET credits = user_credits.credits + EXCLUDED.credits,
	    updated_at = NOW()
	RETURNING credits
`

// deductCreditsQuery is shared with charged job creation.
const deductCreditsQuery = `
	UPDATE user_credits
	SET credits = credits - $2,
	    updated_at = NOW()
	WHERE user_id = $1 AND credits >= $2
	RETURNING credits
`

var milestoneColumns = map[int]string{
	3:  "day3_claimed",
	7:  "day7_claimed",
	14: "day14_claimed",
	30: "day30_claimed",
}

// StreakUpdate is an optimistic-concurrency write of the streak bookkeeping.
type StreakUpdate struct {
	UserID          string
	ExpectedLast    *time.Time
	Day             time.Time
	Streak          int
	CheckpointLevel int
}

type CreditRepository struct {
	pool *pgxpool.Pool
}

func NewCreditRepository(pool *pgxpool.Pool) *CreditRepository {
	return &CreditRepository{pool: pool}
}

// Get returns the user's credit row, creating an empty one when missing.
func (r *CreditRepository) Get(ctx context.Context, userID string) (models.UserCredits, error) {
	const ensure = `
		INSERT INTO user_credits (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := r.pool.Exec(ctx, ensure, userID); err != nil {
		return models.UserCredits{}, err
	}

	query := `SELECT ` + creditColumns + ` FROM user_credits WHERE user_id = $1`
	return scanCredits(r.pool.QueryRow(ctx, query, userID))
}

// Deduct decrements the balance only when it covers amount.
func (r *CreditRepository) Deduct(ctx context.Context, userID string, amount int) (int, error) {
	var balance int
	if err := r.pool.QueryRow(ctx, deductCreditsQuery, userID, amount).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrInsufficientCredits
		}
		return 0, err
	}
	return balance, nil
}

// Add increments the balance unconditionally.
func (r *CreditRepository) Add(ctx context.Context, userID string, amount int) (int, error) {
	var balance int
	if err := r.pool.QueryRow(ctx, addCreditsQuery, userID, amount).Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

func (r *CreditRepository) UpdateStreak(ctx context.Context, u StreakUpdate) (models.UserCredits, error) {
	query := `
		UPDATE user_credits
		SET current_streak = $3,
		    checkpoint_level = GREATEST(checkpoint_level, $4),
		    last_activity_date = $5,
		    updated_at = NOW()
		WHERE user_id = $1 AND last_activity_date IS NOT DISTINCT FROM $2
		RETURNING ` + creditColumns
	credits, err := scanCredits(r.pool.QueryRow(ctx, query, u.UserID, u.ExpectedLast, u.Streak, u.CheckpointLevel, u.Day))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.UserCredits{}, ErrConflict
	}
	return credits, err
}

// ClaimMilestone grants a reached, unclaimed milestone reward in one statement.
func (r *CreditRepository) ClaimMilestone(ctx context.Context, userID string, milestone models.Milestone) (models.UserCredits, error) {
	column, ok := milestoneColumns[milestone.Days]
	if !ok {
		return models.UserCredits{}, ErrMilestoneUnavailable
	}

	query := fmt.Sprintf(`
		UPDATE user_credits
		SET credits = credits + $3,
		    %[1]s = true,
		    updated_at = NOW()
		WHERE user_id = $1 AND checkpoint_level >= $2 AND NOT %[1]s
		RETURNING `+creditColumns, column)
	credits, err := scanCredits(r.pool.QueryRow(ctx, query, userID, milestone.Days, milestone.Reward))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.UserCredits{}, ErrMilestoneUnavailable
	}
	return credits, err
}

func scanCredits(row pgx.Row) (models.UserCredits, error) {
	var c models.UserCredits
	err := row.Scan(
		&c.UserID,
		&c.Credits,
		&c.CurrentStreak,
		&c.CheckpointLevel,
		&c.Day3Claimed,
		&c.Day7Claimed,
		&c.Day14Claimed,
		&c.Day30Claimed,
		&c.LastActivityDate,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	return c, err
}
