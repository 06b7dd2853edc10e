package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInMemoryQueue_EnqueueDequeue(t *testing.T) {
	q := NewInMemoryQueue(2)
	assert.Equal(t, 0, q.Size())

	assert.NoError(t, q.Enqueue("a"))
	assert.NoError(t, q.Enqueue("b"))
	assert.Equal(t, 2, q.Size())

	assert.EqualError(t, q.Enqueue("c"), "queue is full")

	item, err := q.Dequeue()
	assert.NoError(t, err)
	assert.Equal(t, "a", item)

	item, err = q.Dequeue()
	assert.NoError(t, err)
	assert.Equal(t, "b", item)

	_, err = q.Dequeue()
	assert.EqualError(t, err, "queue is empty")
}

func TestInMemoryQueue_ReadAllMessages(t *testing.T) {
	q := NewInMemoryQueue(4)
	assert.NoError(t, q.Enqueue(1))
	assert.NoError(t, q.Enqueue(2))
	assert.NoError(t, q.Enqueue(3))

	items, err := q.ReadAllMessages()
	assert.NoError(t, err)
	assert.Equal(t, []interface{}{1, 2, 3}, items)
	assert.Equal(t, 0, q.Size())

	items, err = q.ReadAllMessages()
	assert.NoError(t, err)
	assert.Empty(t, items)
}

func TestInMemoryQueue_ClearQueue(t *testing.T) {
	q := NewInMemoryQueue(4)
	assert.NoError(t, q.Enqueue(1))
	assert.NoError(t, q.Enqueue(2))

	assert.NoError(t, q.ClearQueue())
	assert.Equal(t, 0, q.Size())
}
