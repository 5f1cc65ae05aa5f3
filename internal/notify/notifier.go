// Package notify publishes job transitions on a Redis channel,
// fire-and-forget. Subscribers (UI push, email workers) are external; a
// failed publish is logged and dropped, never surfaced to the transition.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"engagement-engine/internal/models"
)

// RedisNotifier publishes transition messages to a pub/sub channel.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

// New builds a notifier on the given channel.
func New(client *redis.Client, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

type transitionMessage struct {
	JobID      string           `json:"job_id"`
	From       models.JobStatus `json:"from"`
	To         models.JobStatus `json:"to"`
	AssignedTo *string          `json:"assigned_to,omitempty"`
	At         time.Time        `json:"at"`
}

// JobTransition publishes the transition. Errors are logged, not returned.
func (n *RedisNotifier) JobTransition(ctx context.Context, job models.Job, from models.JobStatus) {
	msg := transitionMessage{
		JobID:      job.ID,
		From:       from,
		To:         job.Status,
		AssignedTo: job.AssignedTo,
		At:         job.UpdatedAt,
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		log.Printf("notify: encode transition: %v", err)
		return
	}
	if err := n.client.Publish(ctx, n.channel, raw).Err(); err != nil {
		log.Printf("notify: publish transition: %v", err)
	}
}
