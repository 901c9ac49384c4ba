// Package queue implements the delivery queue & worker (C9): a
// durable, at-least-once fan-out of message events to whichever
// instance currently holds the recipient's socket, using a
// per-instance unique consumer group so every running instance sees
// every job rather than splitting them as a work queue.
package queue

import (
	"context"
	"encoding/json"
)

// Job is the durable payload published to the delivery topic:
// {to, kind:"worker", conversation, data:{kind,message}}.
type Job struct {
	To           string `json:"to"`
	Kind         string `json:"kind"`
	Conversation string `json:"conversation"`
	Data         Data   `json:"data"`
}

// Data carries the dispatcher's frame kind and the already-serialized
// message payload the recipient's socket should receive verbatim.
type Data struct {
	Kind    string          `json:"kind"`
	Message json.RawMessage `json:"message"`
}

// Enqueuer is the narrow surface the dispatcher depends on; Producer
// implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}
