package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MaxOptions is the largest number of options a question may carry.
const MaxOptions = 100

// Status is the lifecycle state of a game session.
type Status int32

const (
	StatusLobby Status = iota
	StatusRunning
	StatusEnded
)

func (s Status) String() string {
	switch s {
	case StatusLobby:
		return "lobby"
	case StatusRunning:
		return "running"
	case StatusEnded:
		return "ended"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// QuestionSet is the metadata of a named list of questions.
type QuestionSet struct {
	Name        string
	Description string
	Owner       string
	CreateTime  time.Time
}

// Question is a multiple choice question. Correct holds 1-based option indices.
type Question struct {
	Prompt   string
	ImageURL string
	Options  []string
	Correct  []int
}

// IsCorrect reports whether the 1-based option is one of the correct answers.
func (q Question) IsCorrect(option int) bool {
	for _, c := range q.Correct {
		if c == option {
			return true
		}
	}
	return false
}

// Validate checks the question is playable.
func (q Question) Validate() error {
	if q.Prompt == "" {
		return fmt.Errorf("empty prompt")
	}
	if len(q.Options) == 0 || len(q.Options) > MaxOptions {
		return fmt.Errorf("question %q: want 1..%d options, got %d", q.Prompt, MaxOptions, len(q.Options))
	}
	if len(q.Correct) == 0 {
		return fmt.Errorf("question %q: no correct option", q.Prompt)
	}

	seen := make(map[int]bool, len(q.Correct))
	for _, c := range q.Correct {
		if c < 1 || c > len(q.Options) {
			return fmt.Errorf("question %q: correct option %d out of range", q.Prompt, c)
		}
		if seen[c] {
			return fmt.Errorf("question %q: duplicate correct option %d", q.Prompt, c)
		}
		seen[c] = true
	}

	return nil
}

// Outcome is what a single player did in a round: either Answered or NotAnswered.
type Outcome interface {
	outcome()
}

// Answered is an in-window answer. Delta is zero when the answer is incorrect.
type Answered struct {
	Option  int
	Delta   decimal.Decimal
	Correct bool
	Elapsed time.Duration
}

// NotAnswered marks a player without an accepted answer in the round.
type NotAnswered struct{}

func (Answered) outcome()    {}
func (NotAnswered) outcome() {}

// Standing is a player's position in the session standings.
type Standing struct {
	PlayerID string
	Score    decimal.Decimal
}

// Leaderboard is a snapshot of a session's standings.
// The entries are sorted by score in descending order, ties by join order.
type Leaderboard struct {
	ChannelID string             `json:"channel_id"`
	SessionID string             `json:"session_id"`
	Round     int                `json:"round"`
	Final     bool               `json:"final"`
	Entries   []LeaderboardEntry `json:"entries"`
}

type LeaderboardEntry struct {
	PlayerID string          `json:"player_id"`
	Score    decimal.Decimal `json:"score"`
}

// NewLeaderboard builds a leaderboard from sorted standings.
func NewLeaderboard(channelID, sessionID string, round int, standings []Standing) Leaderboard {
	l := Leaderboard{
		ChannelID: channelID,
		SessionID: sessionID,
		Round:     round,
		Entries:   make([]LeaderboardEntry, 0, len(standings)),
	}
	for _, s := range standings {
		l.Entries = append(l.Entries, LeaderboardEntry{PlayerID: s.PlayerID, Score: s.Score})
	}
	return l
}
