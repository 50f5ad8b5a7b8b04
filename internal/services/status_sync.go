package services

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"flowcraft/backend/internal/hub"
	"flowcraft/backend/internal/replay"
)

const DefaultSyncInterval = time.Second

type StatusSource interface {
	Status() replay.Status
}

type Broadcaster interface {
	Broadcast(msgType string, data interface{})
}

// StatusSyncService re-sends the playback status to UI clients while a
// replay runs, and once more when it ends.
type StatusSyncService struct {
	src      StatusSource
	ui       Broadcaster
	interval time.Duration
	log      logrus.FieldLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewStatusSync(src StatusSource, ui Broadcaster, interval time.Duration, log logrus.FieldLogger) *StatusSyncService {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &StatusSyncService{src: src, ui: ui, interval: interval, log: log}
}

func (s *StatusSyncService) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.syncLoop(ctx, s.done)
	s.log.Info("Status sync service started")
}

// Stop ends the loop and waits for it to exit.
func (s *StatusSyncService) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info("Status sync service stopped")
}

func (s *StatusSyncService) syncLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	wasPlaying := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := s.src.Status()
			if st.IsPlaying || wasPlaying {
				s.ui.Broadcast(hub.TypePlaybackStatus, st)
			}
			wasPlaying = st.IsPlaying
		}
	}
}
