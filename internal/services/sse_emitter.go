package services

import (
	"context"

	"github.com/slidesmith/slidesmith-backend/internal/sse"
)

// Emitter decouples notifiers from the delivery substrate. With redis
// configured, messages go out on the bus and every instance's forwarder
// (including the publisher's own) feeds its local hub, so multi-instance
// deployments converge. Without redis, HubEmitter delivers directly.
type Emitter interface {
	Emit(ctx context.Context, msg sse.Message)
}

type HubEmitter struct{ Hub *sse.Hub }

func (e *HubEmitter) Emit(ctx context.Context, msg sse.Message) {
	e.Hub.Broadcast(msg)
}

type RedisEmitter struct{ Bus SSEBus }

func (e *RedisEmitter) Emit(ctx context.Context, msg sse.Message) {
	_ = e.Bus.Publish(ctx, msg)
}
