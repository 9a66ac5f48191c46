package status

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/voxkey/voxkey/internal/bus"
	"github.com/voxkey/voxkey/internal/protocol"
)

// BusSink publishes state changes on the message bus so external overlays and
// tooling can follow the pipeline. Publishing happens on a dedicated
// goroutine behind a bounded queue; when the queue is full events are
// dropped, never blocking the pipeline.
type BusSink struct {
	client *bus.Client
	log    *slog.Logger

	queue chan Event
	once  sync.Once
	wg    sync.WaitGroup
}

func NewBusSink(client *bus.Client, bufferSize int, log *slog.Logger) *BusSink {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	s := &BusSink{
		client: client,
		log:    log.With(slog.String("component", "status")),
		queue:  make(chan Event, bufferSize),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *BusSink) Publish(event Event) {
	select {
	case s.queue <- event:
	default:
		s.log.Warn("status queue full, dropping event",
			slog.String("state", string(event.State)))
	}
}

func (s *BusSink) Close() {
	s.once.Do(func() { close(s.queue) })
	s.wg.Wait()
}

func (s *BusSink) run() {
	defer s.wg.Done()
	for event := range s.queue {
		s.publishOne(event)
	}
}

func (s *BusSink) publishOne(event Event) {
	msg := protocol.StatusEvent{
		SessionID: event.SessionID,
		State:     string(event.State),
		Text:      event.Text,
		Timestamp: event.At,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("marshal status event", slogError(err))
		return
	}
	if err := s.client.Conn().Publish(protocol.SubjectStatus, payload); err != nil {
		s.log.Warn("publish status event", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
