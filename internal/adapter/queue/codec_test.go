package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskCodec(t *testing.T) {
	task := testTask("a")
	task.Attempt = 3
	task.Event.ReceivedAt = time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC)

	body, err := encodeTask(task)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"order_id":"order-a"`)

	got, err := decodeTask(body)
	require.NoError(t, err)
	assert.Equal(t, task, got)
}

func TestDecodeTask_Invalid(t *testing.T) {
	_, err := decodeTask([]byte(`{"id":`))
	assert.Error(t, err)
}
