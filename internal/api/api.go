package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/errors"
	"github.com/victornm/trivia/internal/event"
	"github.com/victornm/trivia/internal/game"
	"github.com/victornm/trivia/internal/leaderboard"
	"github.com/victornm/trivia/internal/questionset"
)

const headerRequestID = "X-Request-ID"

type Config struct {
	Engine       *gin.Engine
	EventBus     *event.Bus
	Games        *game.Controller
	Leaderboard  *leaderboard.Service
	Questions    questionset.Store
	Redis        Redis
	PubsubPrefix string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	games     *game.Controller
	ls        *leaderboard.Service
	questions questionset.Store

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		games:     c.Games,
		ls:        c.Leaderboard,
		questions: c.Questions,
		redis:     c.Redis,
		prefix:    c.PubsubPrefix,
	}

	// HTTP APIs
	v1 := c.Engine.Group("/v1", requestLogger())
	{
		v1.POST("/games", a.StartGame)
		v1.GET("/games/:channel", a.GetGame)
		v1.POST("/games/:channel/ready", a.ReadyGame)
		v1.DELETE("/games/:channel", a.CancelGame)
		v1.GET("/channels/:channel/leaderboard", a.GetLeaderboard)
		v1.GET("/question-sets/:name", a.GetQuestionSet)
	}

	// Register event handlers
	c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
	})

	return a
}

type StartGameRequest struct {
	ChannelID        string `json:"channel_id" binding:"required"`
	CommandChannelID string `json:"command_channel_id"`
	HostID           string `json:"host_id" binding:"required"`
	QuestionSet      string `json:"question_set"`
	Shuffle          *bool  `json:"shuffle"`
	Seconds          int    `json:"seconds"`
}

type StartGameResponse struct {
	SessionID   string `json:"session_id"`
	ChannelID   string `json:"channel_id"`
	QuestionSet string `json:"question_set"`
}

func (a *API) StartGame(c *gin.Context) {
	var req StartGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid request: %v", err)))
		return
	}

	h, err := a.games.Start(c.Request.Context(), game.StartRequest{
		ChannelID:        req.ChannelID,
		CommandChannelID: req.CommandChannelID,
		HostID:           req.HostID,
		QuestionSet:      req.QuestionSet,
		Shuffle:          req.Shuffle,
		Seconds:          req.Seconds,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusCreated, StartGameResponse{
		SessionID:   h.ID,
		ChannelID:   h.ChannelID,
		QuestionSet: h.QuestionSet,
	})
}

type (
	Game struct {
		SessionID   string     `json:"session_id"`
		ChannelID   string     `json:"channel_id"`
		HostID      string     `json:"host_id"`
		QuestionSet string     `json:"question_set"`
		Status      string     `json:"status"`
		Round       int        `json:"round"`
		Rounds      int        `json:"rounds"`
		Seconds     int        `json:"seconds"`
		Players     []string   `json:"players"`
		Standings   []Standing `json:"standings"`
	}

	Standing struct {
		PlayerID string `json:"player_id"`
		Score    string `json:"score"`
	}
)

func (a *API) GetGame(c *gin.Context) {
	snap, err := a.games.Snapshot(c.Request.Context(), c.Param("channel"))
	if err != nil {
		abort(c, err)
		return
	}

	g := Game{
		SessionID:   snap.SessionID,
		ChannelID:   snap.ChannelID,
		HostID:      snap.HostID,
		QuestionSet: snap.QuestionSet,
		Status:      snap.Status.String(),
		Round:       snap.Round,
		Rounds:      snap.Rounds,
		Seconds:     snap.Seconds,
		Players:     snap.Players,
		Standings:   make([]Standing, 0, len(snap.Standings)),
	}
	if g.Players == nil {
		g.Players = []string{}
	}
	for _, s := range snap.Standings {
		g.Standings = append(g.Standings, Standing{PlayerID: s.PlayerID, Score: s.Score.String()})
	}

	c.JSON(http.StatusOK, g)
}

type ReadyGameRequest struct {
	PlayerID string `json:"player_id" binding:"required"`
}

func (a *API) ReadyGame(c *gin.Context) {
	var req ReadyGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid request: %v", err)))
		return
	}

	if err := a.games.Ready(c.Request.Context(), c.Param("channel"), req.PlayerID); err != nil {
		abort(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *API) CancelGame(c *gin.Context) {
	if err := a.games.Cancel(c.Request.Context(), c.Param("channel")); err != nil {
		abort(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *API) GetLeaderboard(c *gin.Context) {
	l, err := a.ls.GetLeaderboard(c.Request.Context(), leaderboard.GetLeaderboardRequest{
		ChannelID: c.Param("channel"),
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, newLeaderboard(*l))
}

type QuestionSet struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Owner       string    `json:"owner"`
	CreateTime  time.Time `json:"create_time"`
	Questions   int       `json:"questions"`
}

func (a *API) GetQuestionSet(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Param("name")

	set, err := a.questions.Metadata(ctx, name)
	if err != nil {
		abort(c, err)
		return
	}

	qs, err := a.questions.Questions(ctx, name)
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, QuestionSet{
		Name:        set.Name,
		Description: set.Description,
		Owner:       set.Owner,
		CreateTime:  set.CreateTime,
		Questions:   len(qs),
	})
}

type errorResponse struct {
	Error *errors.Error `json:"error"`
}

func abort(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "api: request failed", "path", c.FullPath(), "error", err)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), errorResponse{Error: e})
}

// requestLogger tags every request with an ID and logs its completion.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(headerRequestID, id)

		c.Next()

		slog.InfoContext(c.Request.Context(), "api: request completed",
			"request_id", id,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}
