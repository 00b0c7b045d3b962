package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/slidesmith/slidesmith-backend/internal/repos"
	"github.com/slidesmith/slidesmith-backend/internal/services"
	"github.com/slidesmith/slidesmith-backend/internal/types"
)

// Retry policy for failed runs. A failed row becomes claimable again at
// next_run_at; after MaxAttempts the claim query stops picking it up.
const (
	MaxAttempts = 3
	BackoffBase = 5 * time.Second
	MaxBackoff  = 5 * time.Minute
)

/*
Context is the execution handle for a single claimed job run. It wraps the
mutable job_run row, the notifier side channel, and the cancellation flag, and
is the only sanctioned way for a pipeline to report progress or terminate.
Every persisted lifecycle write is guarded by UnlessStatus(canceled) so a
canceled run is never overwritten.
*/
type Context struct {
	Ctx     context.Context
	Job     *types.JobRun
	Repo    repos.JobRunRepo
	Notify  services.JobNotifier
	Cancels services.CancelRegistry
	payload map[string]any
}

func NewContext(ctx context.Context, job *types.JobRun, repo repos.JobRunRepo, notify services.JobNotifier, cancels services.CancelRegistry) *Context {
	c := &Context{
		Ctx:     ctx,
		Job:     job,
		Repo:    repo,
		Notify:  notify,
		Cancels: cancels,
	}
	_ = c.decodePayload()
	return c
}

func (c *Context) decodePayload() error {
	if c.Job == nil || len(c.Job.Payload) == 0 {
		c.payload = map[string]any{}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(c.Job.Payload, &m); err != nil {
		c.payload = map[string]any{}
		return err
	}
	c.payload = m
	return nil
}

// Payload never returns nil; an unset or unparseable payload yields an empty map.
func (c *Context) Payload() map[string]any {
	if c.payload == nil {
		c.payload = map[string]any{}
	}
	return c.payload
}

// PayloadUUID reads a payload field and parses it as a UUID. Returns
// (uuid.Nil, false) when the key is missing or malformed so pipelines can
// validate inputs without repeating parse logic.
func (c *Context) PayloadUUID(key string) (uuid.UUID, bool) {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(fmt.Sprint(v))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func (c *Context) PayloadString(key string) string {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Canceled reports whether this run should stop at the next checkpoint. It
// checks the deck-level cancellation flag first, then falls back to the job
// row's own status.
func (c *Context) Canceled() bool {
	if c == nil || c.Job == nil {
		return false
	}
	if c.Cancels != nil && c.Job.DeckID != uuid.Nil {
		ctx := c.Ctx
		if ctx == nil {
			ctx = context.Background()
		}
		if flagged, err := c.Cancels.IsCancelRequested(ctx, c.Job.DeckID); err == nil && flagged {
			return true
		}
	}
	if c.Repo != nil && c.Job.ID != uuid.Nil {
		ctx := c.Ctx
		if ctx == nil {
			ctx = context.Background()
		}
		fresh, err := c.Repo.GetByID(ctx, nil, c.Job.ID)
		if err == nil && fresh != nil && fresh.Status == types.JobStatusCanceled {
			return true
		}
	}
	return false
}

// MarkCanceled terminates the run as canceled without a retry.
func (c *Context) MarkCanceled(stage string) {
	if c == nil || c.Job == nil {
		return
	}
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now().UTC()
	_ = c.Repo.UpdateFields(ctx, nil, c.Job.ID, map[string]interface{}{
		"status":     types.JobStatusCanceled,
		"stage":      stage,
		"locked_at":  nil,
		"updated_at": now,
	})
	c.Job.Status = types.JobStatusCanceled
	c.Job.Stage = stage
	c.Job.LockedAt = nil
	c.Job.UpdatedAt = now
}

// Progress publishes a non-terminal status update: stage/progress plus a
// heartbeat, then a notifier push so clients can update promptly.
func (c *Context) Progress(stage string, pct int, msg string) {
	if c == nil {
		return
	}
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now().UTC()

	if c.Repo != nil && c.Job != nil && c.Job.ID != uuid.Nil {
		ok, _ := c.Repo.UpdateFieldsUnlessStatus(ctx, nil, c.Job.ID, []string{types.JobStatusCanceled}, map[string]interface{}{
			"stage":        stage,
			"progress":     pct,
			"heartbeat_at": now,
			"updated_at":   now,
		})
		if !ok {
			return
		}
	}

	if c.Job != nil {
		c.Job.Stage = stage
		c.Job.Progress = pct
		c.Job.HeartbeatAt = &now
		c.Job.UpdatedAt = now
	}

	if c.Notify != nil && c.Job != nil {
		c.Notify.JobProgress(c.Job.OwnerUserID, c.Job, stage, pct, msg)
	}
}

// Backoff returns the delay before a failed run at the given attempt count
// becomes claimable again.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := BackoffBase << (attempts - 1)
	if d > MaxBackoff {
		d = MaxBackoff
	}
	return d
}

// Fail marks this run failed and schedules the retry window. Rows past the
// attempt cap are left failed for good; the claim query excludes them.
func (c *Context) Fail(stage string, err error) {
	if c == nil {
		return
	}
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now().UTC()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	nextRun := now.Add(Backoff(c.attempts()))

	if c.Repo != nil && c.Job != nil && c.Job.ID != uuid.Nil {
		ok, _ := c.Repo.UpdateFieldsUnlessStatus(ctx, nil, c.Job.ID, []string{types.JobStatusCanceled}, map[string]interface{}{
			"status":        types.JobStatusFailed,
			"stage":         stage,
			"error":         msg,
			"last_error_at": now,
			"next_run_at":   nextRun,
			"locked_at":     nil,
			"updated_at":    now,
		})
		if !ok {
			return
		}
	}

	if c.Job != nil {
		c.Job.Status = types.JobStatusFailed
		c.Job.Stage = stage
		c.Job.Error = msg
		c.Job.LastErrorAt = &now
		c.Job.NextRunAt = &nextRun
		c.Job.LockedAt = nil
		c.Job.UpdatedAt = now
	}

	if c.Notify != nil && c.Job != nil {
		c.Notify.JobFailed(c.Job.OwnerUserID, c.Job, stage, msg)
	}
}

// Exhausted reports whether this run has consumed its final attempt.
func (c *Context) Exhausted() bool {
	return c != nil && c.Job != nil && c.Job.Attempts >= MaxAttempts
}

// Succeed marks this run terminally succeeded and persists a result payload.
func (c *Context) Succeed(finalStage string, result any) {
	if c == nil {
		return
	}
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now().UTC()
	var res datatypes.JSON
	if result != nil {
		b, _ := json.Marshal(result)
		res = datatypes.JSON(b)
	}

	if c.Repo != nil && c.Job != nil && c.Job.ID != uuid.Nil {
		ok, _ := c.Repo.UpdateFieldsUnlessStatus(ctx, nil, c.Job.ID, []string{types.JobStatusCanceled}, map[string]interface{}{
			"status":       types.JobStatusSucceeded,
			"stage":        finalStage,
			"progress":     100,
			"error":        "",
			"result":       res,
			"locked_at":    nil,
			"heartbeat_at": now,
			"updated_at":   now,
		})
		if !ok {
			return
		}
	}

	if c.Job != nil {
		c.Job.Status = types.JobStatusSucceeded
		c.Job.Stage = finalStage
		c.Job.Progress = 100
		c.Job.Error = ""
		c.Job.Result = res
		c.Job.LockedAt = nil
		c.Job.HeartbeatAt = &now
		c.Job.UpdatedAt = now
	}

	if c.Notify != nil && c.Job != nil {
		c.Notify.JobDone(c.Job.OwnerUserID, c.Job)
	}
}

func (c *Context) attempts() int {
	if c == nil || c.Job == nil {
		return 1
	}
	if c.Job.Attempts < 1 {
		return 1
	}
	return c.Job.Attempts
}
