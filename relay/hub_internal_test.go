package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnqueueDropsOldest(t *testing.T) {
	h := NewHub(WithQueueSize(2))
	c := &client{send: make(chan []byte, h.queueSize)}

	assert.False(t, h.enqueue(c, []byte("a")))
	assert.False(t, h.enqueue(c, []byte("b")))
	assert.True(t, h.enqueue(c, []byte("c")))

	assert.Equal(t, "b", string(<-c.send))
	assert.Equal(t, "c", string(<-c.send))
}
