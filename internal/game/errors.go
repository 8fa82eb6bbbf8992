package game

import (
	stderrors "errors"

	"github.com/victornm/trivia/internal/errors"
)

const (
	ReasonAlreadyRunning         = "ALREADY_RUNNING"
	ReasonInsufficientPermission = "INSUFFICIENT_PERMISSION"
	ReasonEmptyRoster            = "EMPTY_ROSTER"
	ReasonNotHost                = "NOT_HOST"
	ReasonAlreadyStarted         = "ALREADY_STARTED"
	ReasonEnded                  = "ENDED"
)

var (
	// errCancelled is the cause of a session cancelled by its host or the API.
	errCancelled = stderrors.New("game: cancelled")
	// errShutdown is the cause of a session cancelled by Controller.Shutdown.
	errShutdown = stderrors.New("game: controller shut down")
	// errClaimLost is the cause of a session whose channel claim expired or was taken.
	errClaimLost = stderrors.New("game: channel claim lost")
)

func alreadyRunning(channelID string) error {
	return errors.New(errors.CodeAlreadyExists,
		errors.WithReason(ReasonAlreadyRunning),
		errors.WithMessagef("a game is already running in channel %s", channelID))
}

func insufficientPermission(channelID string) error {
	return errors.New(errors.CodePermissionDenied,
		errors.WithReason(ReasonInsufficientPermission),
		errors.WithMessagef("missing permission to view or send messages in channel %s", channelID))
}

func emptyRoster() error {
	return errors.New(errors.CodeFailedPrecondition,
		errors.WithReason(ReasonEmptyRoster),
		errors.WithMessagef("need at least one player to start"))
}

func notHost(playerID string) error {
	return errors.New(errors.CodePermissionDenied,
		errors.WithReason(ReasonNotHost),
		errors.WithMessagef("player %s is not the host", playerID))
}

func alreadyStarted() error {
	return errors.New(errors.CodeFailedPrecondition,
		errors.WithReason(ReasonAlreadyStarted),
		errors.WithMessagef("game already started"))
}

func noSession(channelID string) error {
	return errors.New(errors.CodeNotFound,
		errors.WithMessagef("no game in channel %s", channelID))
}

func ended() error {
	return errors.New(errors.CodeFailedPrecondition,
		errors.WithReason(ReasonEnded),
		errors.WithMessagef("game ended"))
}
