package producerpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// franz-go's kgo.NewClient validates options and registers a lazy client
// without dialing a broker synchronously, so these tests exercise the
// pool's keying/caching behavior without a live Kafka broker.

func TestGetProducerCachesByKey(t *testing.T) {
	p := New([]string{"127.0.0.1:9092"})

	a, err := p.GetProducer("channel-a", "router", time.Second)
	require.NoError(t, err)

	b, err := p.GetProducer("channel-a", "router", time.Second)
	require.NoError(t, err)

	require.Len(t, p.clients, 1)
	assert.Same(t, a.(*producer).client, b.(*producer).client)
}

func TestGetProducerSeparatesDistinctKeys(t *testing.T) {
	p := New([]string{"127.0.0.1:9092"})

	_, err := p.GetProducer("channel-a", "router", time.Second)
	require.NoError(t, err)

	_, err = p.GetProducer("channel-b", "router", time.Second)
	require.NoError(t, err)

	_, err = p.GetProducer("channel-a", "router", 2*time.Second)
	require.NoError(t, err)

	assert.Len(t, p.clients, 3)
}
