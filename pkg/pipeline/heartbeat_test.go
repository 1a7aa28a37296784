package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHeartbeatEmitsWhileRunningAndStopsCleanly(t *testing.T) {
	events := make(chan Event, 16)
	ctx := context.Background()

	stop := startHeartbeat(ctx, "stage1", events)
	time.Sleep(heartbeatInterval + heartbeatInterval/2)
	stop()

	close(events)
	var count int
	for e := range events {
		assert.Equal(t, EventHeartbeat, e.Type)
		data, ok := e.Data.(heartbeatData)
		if assert.True(t, ok) {
			assert.Equal(t, "stage1", data.Operation)
		}
		count++
	}
	assert.GreaterOrEqual(t, count, 1)
}

func TestHeartbeatStopsOnContextCancellation(t *testing.T) {
	events := make(chan Event, 16)
	ctx, cancel := context.WithCancel(context.Background())

	stop := startHeartbeat(ctx, "stage2", events)
	cancel()
	stop() // must still return promptly even though stopCh was never needed
}
