package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rollcall/internal/queue"
)

// MessageType tags audit events on the queue.
const MessageType = "audit"

// Sink stores decoded events.
type Sink interface {
	InsertEvent(ctx context.Context, evt Event) (Event, error)
}

// Recorder publishes events to the queue for a worker to persist.
type Recorder struct {
	q   queue.Queue
	log *zap.Logger
}

// NewRecorder creates a recorder on q.
func NewRecorder(q queue.Queue, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{q: q, log: log}
}

// Record enqueues evt. Failures are logged; dashboard actions never fail
// because of the activity log.
func (r *Recorder) Record(ctx context.Context, evt Event) {
	if r == nil || r.q == nil {
		return
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.When.IsZero() {
		evt.When = time.Now().UTC()
	}
	body, err := json.Marshal(evt)
	if err != nil {
		r.log.Error("audit encode failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := r.q.Publish(ctx, queue.Message{Type: MessageType, Body: body}); err != nil {
		r.log.Warn("audit publish failed", zap.String("kind", evt.Kind), zap.Error(err))
	}
}

// Consume drains audit messages from q into sink until ctx is cancelled.
func Consume(ctx context.Context, q queue.Queue, sink Sink, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	messages, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range messages {
		if msg.Type != MessageType {
			continue
		}
		var evt Event
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Warn("audit decode failed", zap.Error(err))
			continue
		}
		if _, err := sink.InsertEvent(ctx, evt); err != nil {
			log.Error("audit insert failed", zap.String("id", evt.ID), zap.Error(err))
			continue
		}
		log.Debug("audit event stored", zap.String("id", evt.ID), zap.String("kind", evt.Kind))
	}
	return nil
}

// LogSink writes events to the log when no database is configured.
type LogSink struct {
	Log *zap.Logger
}

// InsertEvent logs evt.
func (s LogSink) InsertEvent(_ context.Context, evt Event) (Event, error) {
	if s.Log != nil {
		s.Log.Info("dashboard activity",
			zap.String("kind", evt.Kind),
			zap.String("teacher", evt.Teacher),
			zap.String("session_id", evt.SessionID),
			zap.String("course", evt.Course),
			zap.String("detail", evt.Detail),
			zap.Time("when", evt.When),
		)
	}
	return evt, nil
}
