package game

import (
	"time"
)

// Settings tune the pace of every session of a Controller.
type Settings struct {
	MinSeconds     int
	MaxSeconds     int
	DefaultSeconds int

	// Pause separates two rounds, measured from the close of the first.
	Pause time.Duration
	// RankWindow is how long players can check their rank after a round.
	RankWindow time.Duration
	// LobbyTimeout ends a session the host never starts.
	LobbyTimeout time.Duration
	LobbyRefresh time.Duration
	// Countdown is the refresh interval of the question countdown.
	Countdown time.Duration

	ReadyCommand       string
	EndCommand         string
	LeaderboardCommand string
}

func DefaultSettings() Settings {
	return Settings{
		MinSeconds:         1,
		MaxSeconds:         60,
		DefaultSeconds:     20,
		Pause:              5 * time.Second,
		RankWindow:         4 * time.Second,
		LobbyTimeout:       20 * time.Minute,
		LobbyRefresh:       time.Second,
		Countdown:          time.Second,
		ReadyCommand:       "ready",
		EndCommand:         "endtrivia",
		LeaderboardCommand: "playerlb",
	}
}

// withDefaults fills the zero fields of s from DefaultSettings.
func (s Settings) withDefaults() Settings {
	d := DefaultSettings()

	if s.MinSeconds <= 0 {
		s.MinSeconds = d.MinSeconds
	}
	if s.MaxSeconds <= 0 {
		s.MaxSeconds = d.MaxSeconds
	}
	if s.DefaultSeconds <= 0 {
		s.DefaultSeconds = d.DefaultSeconds
	}
	if s.Pause <= 0 {
		s.Pause = d.Pause
	}
	if s.RankWindow <= 0 {
		s.RankWindow = d.RankWindow
	}
	if s.LobbyTimeout <= 0 {
		s.LobbyTimeout = d.LobbyTimeout
	}
	if s.LobbyRefresh <= 0 {
		s.LobbyRefresh = d.LobbyRefresh
	}
	if s.Countdown <= 0 {
		s.Countdown = d.Countdown
	}
	if s.ReadyCommand == "" {
		s.ReadyCommand = d.ReadyCommand
	}
	if s.EndCommand == "" {
		s.EndCommand = d.EndCommand
	}
	if s.LeaderboardCommand == "" {
		s.LeaderboardCommand = d.LeaderboardCommand
	}

	return s
}
