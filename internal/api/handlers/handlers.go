package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"flowcraft/backend/internal/models"
	"flowcraft/backend/internal/recorder"
	"flowcraft/backend/internal/replay"
	"flowcraft/backend/internal/store"
	"flowcraft/backend/pkg/response"
)

type Recorder interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status(ctx context.Context) (models.RecordingStatus, error)
	Data(ctx context.Context) (recorder.Recording, error)
}

type Player interface {
	StartPlayback(ctx context.Context, wf models.Workflow) error
	Launch(ctx context.Context, wf models.Workflow) (string, error)
	StopPlayback()
	Status() replay.Status
}

// Reloader is told when the stored schedules change.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Handlers serves the HTTP API. Scheduler, Metrics and Hub may be nil.
type Handlers struct {
	Recorder  Recorder
	Player    Player
	Store     *store.Service
	Scheduler Reloader
	Hub       http.Handler
	Metrics   http.Handler
	Log       logrus.FieldLogger
	// Background bounds playbacks that outlive their request.
	Background context.Context
}

var errorCodes = response.Mapping{
	{Target: store.ErrNotFound, Code: http.StatusNotFound},
	{Target: store.ErrInvalidSchedule, Code: http.StatusBadRequest},
	{Target: replay.ErrAlreadyPlaying, Code: http.StatusConflict},
	{Target: recorder.ErrNotRunning, Code: http.StatusServiceUnavailable},
}

func (h *Handlers) logger() logrus.FieldLogger {
	if h.Log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		h.Log = l
	}
	return h.Log
}

func (h *Handlers) background() context.Context {
	if h.Background == nil {
		return context.Background()
	}
	return h.Background
}
