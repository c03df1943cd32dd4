package dds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/dynbus/errors"
	"github.com/c360/dynbus/transport/memory"
	"github.com/c360/dynbus/typecode"
)

// A filter created while the parent topic is closing must not outlive it.
func TestNewFilteredOnClosingTopic(t *testing.T) {
	bus := memory.NewBus()
	defer bus.Close()

	lib, err := typecode.ParseLibrary([]byte(`
library: Sonar
types:
  - name: Sonar::Ping
    kind: struct
    members:
      - name: sourceSystemID
        type: string
        key: true
      - name: depth
        type: long
`))
	require.NoError(t, err)
	s, err := Open(bus, nil, WithTypeLibraries(lib))
	require.NoError(t, err)

	topic, err := s.GetTopic("Sonar::Ping")
	require.NoError(t, err)
	readers := bus.Stats().Readers

	s.mu.Lock()
	topic.closed = true
	s.mu.Unlock()

	ft, err := topic.newFiltered("depth > 3")
	assert.Nil(t, ft)
	assert.ErrorIs(t, err, errors.ErrTopicClosed)
	assert.Equal(t, readers, bus.Stats().Readers)

	s.mu.Lock()
	assert.Empty(t, topic.filtered)
	topic.closed = false
	s.mu.Unlock()

	require.NoError(t, s.Close())
	assert.Zero(t, bus.Stats().Participants)
}
