package game

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/gateway"
	"github.com/victornm/trivia/internal/roster"
)

const (
	joinID  = "join"
	leaveID = "leave"
	rankID  = "rank"

	lobbyPlayersShown = 10
	maxButtonLabel    = 80
)

const (
	msgJoined        = "Successfully joined game!"
	msgAlreadyJoined = "Looks like you've already joined! Feel free to sit back and wait for the show to begin!"
	msgLeft          = "Successfully left game!"
	msgNotJoined     = "Silly you! You can't leave a game you haven't joined!"
	msgEmptyRoster   = "Need at least one player to start!"
	msgStarting      = "Game starting... get your fingers on the buttons!"
	msgEnding        = "Game ending!"
	msgEnded         = "Game ended"
	msgTimedOut      = "Game timed out"
	msgFailed        = "Oops, something went wrong!"
	msgNotPlaying    = "You're not in this game!"
	msgDuplicate     = "You've already locked in an answer for this question!"
	msgLate          = "Too slow! You missed the window for this question."
	msgSkipped       = "Question skipped"
)

var keycaps = []string{"1️⃣", "2️⃣", "3️⃣", "4️⃣", "5️⃣", "6️⃣", "7️⃣", "8️⃣", "9️⃣", "🔟"}

// choice returns the marker of a 1-based option.
func choice(option int) string {
	if option >= 1 && option <= len(keycaps) {
		return keycaps[option-1]
	}
	return "#" + strconv.Itoa(option)
}

func mention(playerID string) string {
	return "<@" + playerID + ">"
}

func lobbyView(set domain.QuestionSet, hostID string, players []string, settings Settings) gateway.Content {
	return gateway.Content{
		Title:       set.Name + " ※ Press the button to join!",
		Description: set.Description,
		Fields: []gateway.Field{
			{Name: "Host", Value: mention(hostID)},
			{Name: "Players", Value: lobbyPlayers(players)},
		},
		Footer: fmt.Sprintf("Type %s once all players have joined or %s to end the game!", settings.ReadyCommand, settings.EndCommand),
		Components: []gateway.Component{
			{Kind: gateway.ComponentButton, CustomID: joinID, Label: "Join", Emoji: "✋", Primary: true},
			{Kind: gateway.ComponentButton, CustomID: leaveID, Label: "Leave", Emoji: "👋"},
		},
	}
}

// lobbyPlayers lists the most recent joiners first.
func lobbyPlayers(players []string) string {
	if len(players) == 0 {
		return "None yet! Be the first to join!"
	}

	shown := players[max(0, len(players)-lobbyPlayersShown):]
	mentions := make([]string, 0, len(shown))
	for i := len(shown) - 1; i >= 0; i-- {
		mentions = append(mentions, mention(shown[i]))
	}

	s := strings.Join(mentions, " ")
	if more := len(players) - len(shown); more > 0 {
		s += fmt.Sprintf(" + %d more", more)
	}
	return s
}

func questionTitle(set string, number, total int) string {
	return fmt.Sprintf("❔ %s ※ Question %d/%d ❔", set, number, total)
}

func questionView(set string, number, total int, q domain.Question, remaining, responses int) gateway.Content {
	c := gateway.Content{
		Title:       questionTitle(set, number, total),
		Description: q.Prompt,
		ImageURL:    q.ImageURL,
		Footer:      countdown(remaining, responses),
	}

	for i, o := range q.Options {
		c.Fields = append(c.Fields, gateway.Field{Name: choice(i + 1), Value: o})
		c.Components = append(c.Components, gateway.Component{
			Kind:     gateway.ComponentButton,
			CustomID: strconv.Itoa(i + 1),
			Label:    truncate(o, maxButtonLabel),
			Emoji:    choice(i + 1),
		})
	}

	return c
}

func countdown(remaining, responses int) string {
	return fmt.Sprintf("%d seconds | %d responses", remaining, responses)
}

// revealView marks the correct options and shows the final tally. Buttons are removed.
func revealView(set string, total int, res RoundResult) gateway.Content {
	q := res.Question
	c := gateway.Content{
		Title:       questionTitle(set, res.Number, total),
		Description: q.Prompt,
		ImageURL:    q.ImageURL,
		Footer:      fmt.Sprintf("%s | %d responses", closeNote(res.Reason), res.Responses()),
	}

	for i, o := range q.Options {
		mark := "❌"
		if q.IsCorrect(i + 1) {
			mark = "✅"
		}
		c.Fields = append(c.Fields, gateway.Field{
			Name:  fmt.Sprintf("%s %s", choice(i+1), mark),
			Value: fmt.Sprintf("%s (%d)", o, res.Tally[i]),
		})
	}

	return c
}

// closedView shows a question that never got revealed, without its buttons.
func closedView(set string, number, total int, q domain.Question, note string) gateway.Content {
	c := questionView(set, number, total, q, 0, 0)
	c.Components = nil
	c.Footer = note
	return c
}

func closeNote(r RoundCloseReason) string {
	if r == ClosedAllAnswered {
		return "Everyone answered!"
	}
	return "Time's up!"
}

func standingsView(title string, standings []domain.Standing) gateway.Content {
	var b strings.Builder
	for _, s := range standings {
		fmt.Fprintf(&b, "`%s points` - %s\n", s.Score, mention(s.PlayerID))
	}
	if b.Len() == 0 {
		b.WriteString("No players")
	}

	return gateway.Content{
		Title:       title,
		Description: b.String(),
	}
}

func rankingView(number int, standings []domain.Standing) gateway.Content {
	c := standingsView(fmt.Sprintf("🏆 Standings after question %d 🏆", number), standings)
	c.Components = []gateway.Component{
		{Kind: gateway.ComponentButton, CustomID: rankID, Label: "Check my rank", Emoji: "📊"},
	}
	return c
}

func rankCard(playerID string, standings []domain.Standing, res RoundResult) gateway.Content {
	rank := roster.Rank(standings, playerID)
	c := gateway.Content{
		Title: fmt.Sprintf("You are #%d of %d", rank, len(standings)),
	}
	if rank > 0 {
		c.Fields = append(c.Fields, gateway.Field{Name: "Score", Value: standings[rank-1].Score.String() + " points"})
	}

	switch o := res.Outcomes[playerID].(type) {
	case domain.Answered:
		c.Fields = append(c.Fields,
			gateway.Field{Name: "This question", Value: "+" + o.Delta.String() + " points"},
			gateway.Field{Name: "Your answer", Value: optionLabel(res.Question, o.Option)},
		)
	default:
		c.Fields = append(c.Fields, gateway.Field{Name: "This question", Value: "You did not answer"})
	}

	correct := make([]string, 0, len(res.Question.Correct))
	for _, opt := range res.Question.Correct {
		correct = append(correct, optionLabel(res.Question, opt))
	}
	c.Fields = append(c.Fields, gateway.Field{Name: "Correct answer", Value: strings.Join(correct, "\n")})

	return c
}

func lockedIn(q domain.Question, option int) string {
	return fmt.Sprintf("Locked in answer for %s!", optionLabel(q, option))
}

func optionLabel(q domain.Question, option int) string {
	if option < 1 || option > len(q.Options) {
		return choice(option)
	}
	return choice(option) + " " + q.Options[option-1]
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
