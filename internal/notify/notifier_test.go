package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engagement-engine/internal/models"
)

func TestJobTransitionPublishes(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	sub := client.Subscribe(ctx, "jobs.transitions")
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	n := New(client, "jobs.transitions")
	contractor := "c1"
	n.JobTransition(ctx, models.Job{
		ID:         "job-1",
		Status:     models.StatusRequested,
		AssignedTo: &contractor,
		UpdatedAt:  time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
	}, models.StatusOpen)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var got transitionMessage
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, "job-1", got.JobID)
	assert.Equal(t, models.StatusOpen, got.From)
	assert.Equal(t, models.StatusRequested, got.To)
	require.NotNil(t, got.AssignedTo)
	assert.Equal(t, "c1", *got.AssignedTo)
}

func TestJobTransitionSwallowsPublishFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close() // force the publish to fail

	n := New(client, "jobs.transitions")
	// Must not panic or block; failures are logged and dropped.
	n.JobTransition(context.Background(), models.Job{ID: "job-1", Status: models.StatusOpen}, models.StatusRequested)
}
