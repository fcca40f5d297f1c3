package models

import "time"

type UserCredits struct {
	UserID           string
	Credits          int
	CurrentStreak    int
	CheckpointLevel  int
	Day3Claimed      bool
	Day7Claimed      bool
	Day14Claimed     bool
	Day30Claimed     bool
	LastActivityDate *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Milestone is a streak length that unlocks a one-time credit reward.
type Milestone struct {
	Days   int
	Reward int
}

var Milestones = []Milestone{
	{Days: 3, Reward: 1},
	{Days: 7, Reward: 3},
	{Days: 14, Reward: 5},
	{Days: 30, Reward: 10},
}

// MilestoneFor returns the milestone with the given streak length.
func MilestoneFor(days int) (Milestone, bool) {
	for _, m := range Milestones {
		if m.Days == days {
			return m, true
		}
	}
	return Milestone{}, false
}

// CheckpointFor returns the highest milestone reached by a streak, or 0.
func CheckpointFor(streak int) int {
	level := 0
	for _, m := range Milestones {
		if streak >= m.Days {
			level = m.Days
		}
	}
	return level
}

// Claimed reports the claimed flag for a milestone.
func (c UserCredits) Claimed(days int) bool {
	switch days {
	case 3:
		return c.Day3Claimed
	case 7:
		return c.Day7Claimed
	case 14:
		return c.Day14Claimed
	case 30:
		return c.Day30Claimed
	}
	return false
}
