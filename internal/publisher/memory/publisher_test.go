package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/storechat/content-pipeline/internal/pipeline"
)

func TestPublishRecordsEventsInOrder(t *testing.T) {
	t.Parallel()

	p := New()
	ctx := context.Background()

	first := pipeline.JobEvent{JobID: "job-001", Status: pipeline.JobStatusCompleted, Finished: time.Unix(100, 0)}
	second := pipeline.JobEvent{JobID: "job-002", Status: pipeline.JobStatusFailed, Finished: time.Unix(200, 0)}

	id1, err := p.Publish(ctx, "content-events", first)
	require.NoError(t, err)
	id2, err := p.Publish(ctx, "content-events", second)
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	events := p.Events()
	require.Len(t, events, 2)
	require.Equal(t, "content-events", events[0].Topic)
	require.Equal(t, id1, events[0].ID)
	require.Equal(t, first, events[0].Payload)
	require.Equal(t, second, events[1].Payload)
}

func TestJobEventsFiltersPayloadType(t *testing.T) {
	t.Parallel()

	p := New()
	ctx := context.Background()

	_, err := p.Publish(ctx, "content-events", pipeline.JobEvent{JobID: "job-001"})
	require.NoError(t, err)
	_, err = p.Publish(ctx, "content-events", map[string]string{"unrelated": "payload"})
	require.NoError(t, err)

	events := p.JobEvents()
	require.Len(t, events, 1)
	require.Equal(t, "job-001", events[0].JobID)
}

func TestEventsReturnsCopy(t *testing.T) {
	t.Parallel()

	p := New()
	_, err := p.Publish(context.Background(), "content-events", pipeline.JobEvent{JobID: "job-001"})
	require.NoError(t, err)

	events := p.Events()
	events[0].Topic = "mutated"
	require.Equal(t, "content-events", p.Events()[0].Topic)
}
