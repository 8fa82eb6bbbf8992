package domain

import "time"

const (
	EventNameGameStarted        = "game.started"
	EventNameRoundResolved      = "round.resolved"
	EventNameGameEnded          = "game.ended"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

// EndReason tells why a session ended.
type EndReason string

const (
	EndReasonCompleted EndReason = "completed"
	EndReasonCancelled EndReason = "cancelled"
	EndReasonTimedOut  EndReason = "timed_out"
	EndReasonFailed    EndReason = "failed"
)

type EventGameStarted struct {
	SessionID   string
	ChannelID   string
	HostID      string
	QuestionSet string
	Questions   int
	StartTime   time.Time
}

func (EventGameStarted) Name() string { return EventNameGameStarted }

type EventRoundResolved struct {
	SessionID string
	ChannelID string
	Round     int
	Standings []Standing
}

func (EventRoundResolved) Name() string { return EventNameRoundResolved }

// EventGameEnded is published once per session, after teardown.
// Played is false when the session never left the lobby.
type EventGameEnded struct {
	SessionID   string
	ChannelID   string
	QuestionSet string
	Reason      EndReason
	Played      bool
	Rounds      int
	Standings   []Standing
	EndTime     time.Time
}

func (EventGameEnded) Name() string { return EventNameGameEnded }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
