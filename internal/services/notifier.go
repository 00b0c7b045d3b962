package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/slidesmith/slidesmith-backend/internal/sse"
	"github.com/slidesmith/slidesmith-backend/internal/types"
)

// DeckNotifier pushes committed deck events to live subscribers. Calls happen
// strictly after the owning transaction commits and are best effort: the hub
// drops for slow sinks, the redis emitter swallows publish errors. A missed
// push is recoverable through the polling replay endpoint.
type DeckNotifier interface {
	EventAppended(userID uuid.UUID, ev *types.DeckEvent)
}

type deckNotifier struct {
	emit Emitter
}

func NewDeckNotifier(emit Emitter) DeckNotifier {
	return &deckNotifier{emit: emit}
}

func (n *deckNotifier) EventAppended(userID uuid.UUID, ev *types.DeckEvent) {
	if n == nil || n.emit == nil || ev == nil {
		return
	}
	var data any
	if len(ev.Data) > 0 {
		data = json.RawMessage(ev.Data)
	}
	msg := sse.Message{
		Type:      string(ev.Type),
		DeckID:    ev.DeckID,
		Data:      data,
		Version:   ev.Version,
		Timestamp: ev.CreatedAt,
	}

	msg.Channel = sse.DeckChannel(ev.DeckID)
	n.emit.Emit(context.Background(), msg)

	if userID != uuid.Nil {
		msg.Channel = sse.UserChannel(userID)
		n.emit.Emit(context.Background(), msg)
	}
}

// JobNotifier surfaces job lifecycle on the owner's user channel.
type JobNotifier interface {
	JobCreated(userID uuid.UUID, job *types.JobRun)
	JobProgress(userID uuid.UUID, job *types.JobRun, stage string, progress int, message string)
	JobFailed(userID uuid.UUID, job *types.JobRun, stage string, errorMessage string)
	JobDone(userID uuid.UUID, job *types.JobRun)
}

type jobNotifier struct {
	emit Emitter
}

func NewJobNotifier(emit Emitter) JobNotifier {
	return &jobNotifier{emit: emit}
}

func (n *jobNotifier) JobCreated(userID uuid.UUID, job *types.JobRun) {
	if n == nil || n.emit == nil || userID == uuid.Nil {
		return
	}
	n.emit.Emit(context.Background(), sse.Message{
		Channel: sse.UserChannel(userID),
		Type:    "JobCreated",
		DeckID:  safeDeckID(job),
		Data:    map[string]any{"job": job},
	})
}

func (n *jobNotifier) JobProgress(userID uuid.UUID, job *types.JobRun, stage string, progress int, message string) {
	if n == nil || n.emit == nil || userID == uuid.Nil {
		return
	}
	n.emit.Emit(context.Background(), sse.Message{
		Channel: sse.UserChannel(userID),
		Type:    "JobProgress",
		DeckID:  safeDeckID(job),
		Data: map[string]any{
			"job_id":   safeJobID(job),
			"job_type": safeJobType(job),
			"stage":    stage,
			"progress": progress,
			"message":  message,
		},
	})
}

func (n *jobNotifier) JobFailed(userID uuid.UUID, job *types.JobRun, stage string, errorMessage string) {
	if n == nil || n.emit == nil || userID == uuid.Nil {
		return
	}
	n.emit.Emit(context.Background(), sse.Message{
		Channel: sse.UserChannel(userID),
		Type:    "JobFailed",
		DeckID:  safeDeckID(job),
		Data: map[string]any{
			"job_id":   safeJobID(job),
			"job_type": safeJobType(job),
			"stage":    stage,
			"error":    errorMessage,
		},
	})
}

func (n *jobNotifier) JobDone(userID uuid.UUID, job *types.JobRun) {
	if n == nil || n.emit == nil || userID == uuid.Nil {
		return
	}
	n.emit.Emit(context.Background(), sse.Message{
		Channel: sse.UserChannel(userID),
		Type:    "JobDone",
		DeckID:  safeDeckID(job),
		Data: map[string]any{
			"job_id":   safeJobID(job),
			"job_type": safeJobType(job),
		},
	})
}

func safeDeckID(job *types.JobRun) uuid.UUID {
	if job == nil {
		return uuid.Nil
	}
	return job.DeckID
}

func safeJobID(job *types.JobRun) uuid.UUID {
	if job == nil {
		return uuid.Nil
	}
	return job.ID
}

func safeJobType(job *types.JobRun) string {
	if job == nil {
		return ""
	}
	return job.JobType
}
