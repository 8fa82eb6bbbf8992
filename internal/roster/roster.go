// Package roster keeps the players of one game session and their scores.
//
// A Roster is not safe for concurrent use: it is owned by the session goroutine.
package roster

import (
	"slices"

	"github.com/shopspring/decimal"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/errors"
)

const ReasonLocked = "ROSTER_LOCKED"

type Roster struct {
	order  []string
	scores map[string]decimal.Decimal
	locked bool
}

func New() *Roster {
	return &Roster{
		scores: make(map[string]decimal.Decimal),
	}
}

// Join adds a player with a zero score. It returns false if the player already joined.
func (r *Roster) Join(player string) (bool, error) {
	if r.locked {
		return false, lockedError()
	}
	if _, ok := r.scores[player]; ok {
		return false, nil
	}

	r.order = append(r.order, player)
	r.scores[player] = decimal.Zero
	return true, nil
}

// Leave removes a player. It returns false if the player never joined.
func (r *Roster) Leave(player string) (bool, error) {
	if r.locked {
		return false, lockedError()
	}
	if _, ok := r.scores[player]; !ok {
		return false, nil
	}

	delete(r.scores, player)
	r.order = slices.DeleteFunc(r.order, func(p string) bool { return p == player })
	return true, nil
}

// Lock freezes the membership. Only Credit may change the roster afterwards.
func (r *Roster) Lock() {
	r.locked = true
}

func (r *Roster) Locked() bool {
	return r.locked
}

// Credit adds a non-negative delta to a locked roster member's score.
func (r *Roster) Credit(player string, delta decimal.Decimal) error {
	if !r.locked {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("roster: credit before the game started"))
	}
	if delta.IsNegative() {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("roster: negative delta %s for player %s", delta, player))
	}
	score, ok := r.scores[player]
	if !ok {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("roster: player %s not found", player))
	}

	r.scores[player] = score.Add(delta)
	return nil
}

func (r *Roster) Has(player string) bool {
	_, ok := r.scores[player]
	return ok
}

func (r *Roster) Len() int {
	return len(r.order)
}

// Score returns the player's cumulative score, zero for unknown players.
func (r *Roster) Score(player string) decimal.Decimal {
	return r.scores[player]
}

// Players returns the players in join order.
func (r *Roster) Players() []string {
	return slices.Clone(r.order)
}

// Members returns a snapshot of the membership, safe to read from other goroutines.
func (r *Roster) Members() map[string]struct{} {
	m := make(map[string]struct{}, len(r.order))
	for _, p := range r.order {
		m[p] = struct{}{}
	}
	return m
}

// Standings returns the players sorted by score in descending order.
// Players with equal scores keep their join order.
func (r *Roster) Standings() []domain.Standing {
	s := make([]domain.Standing, 0, len(r.order))
	for _, p := range r.order {
		s = append(s, domain.Standing{PlayerID: p, Score: r.scores[p]})
	}

	slices.SortStableFunc(s, func(a, b domain.Standing) int {
		return b.Score.Cmp(a.Score)
	})
	return s
}

// Rank returns the 1-based position of the player in the standings, 0 if absent.
func Rank(standings []domain.Standing, player string) int {
	for i, s := range standings {
		if s.PlayerID == player {
			return i + 1
		}
	}
	return 0
}

func lockedError() error {
	return errors.New(errors.CodeFailedPrecondition,
		errors.WithReason(ReasonLocked),
		errors.WithMessagef("roster: players can't join or leave once the game started"))
}
