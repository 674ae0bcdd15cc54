// Package producerpool is a concrete ProducerPool collaborator backed by
// real Kafka producers (github.com/twmb/franz-go), keyed by
// (channelName, clientID, timeout). The keyed-cache-with-mutex shape is
// adapted from skipper's circuit.Registry, which caches *Breaker instances
// by settings key behind a single mutex instead of per-entry locks.
package producerpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	log "github.com/sirupsen/logrus"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/jembi/openhim-router/collaborators"
)

type key struct {
	channel  string
	clientID string
	timeout  time.Duration
}

// Pool is a franz-go backed ProducerPool collaborator.
type Pool struct {
	brokers []string

	mu      sync.Mutex
	clients map[key]*kgo.Client
}

// New builds a producer pool that dials the given Kafka broker addresses.
func New(brokers []string) *Pool {
	return &Pool{
		brokers: brokers,
		clients: make(map[key]*kgo.Client),
	}
}

// GetProducer returns the cached client for (channelName, clientID, timeout),
// creating one if absent.
func (p *Pool) GetProducer(channelName, clientID string, timeout time.Duration) (collaborators.Producer, error) {
	k := key{channel: channelName, clientID: clientID, timeout: timeout}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[k]; ok {
		return &producer{client: c, timeout: timeout}, nil
	}

	client, err := p.dial(clientID)
	if err != nil {
		return nil, err
	}

	p.clients[k] = client
	return &producer{client: client, timeout: timeout}, nil
}

// dial builds a new client, retrying construction up to three times with an
// exponential backoff and logging each failed attempt the way skipper's
// collaborators log cache misses. kgo.NewClient only validates options; it
// does not contact a broker here.
func (p *Pool) dial(clientID string) (*kgo.Client, error) {
	op := func() (*kgo.Client, error) {
		c, err := kgo.NewClient(
			kgo.SeedBrokers(p.brokers...),
			kgo.ClientID(clientID),
		)
		if err != nil {
			log.WithField("clientId", clientID).WithError(err).Debug("producerpool: dial attempt failed")
			return nil, err
		}
		return c, nil
	}

	return backoff.Retry(context.Background(), op, backoff.WithMaxTries(3))
}

type producer struct {
	client  *kgo.Client
	timeout time.Duration
}

func (pr *producer) Send(req collaborators.SendRequest) (collaborators.Ack, error) {
	if len(req.Messages) != 1 {
		return collaborators.Ack{}, fmt.Errorf("producerpool: expected exactly one message, got %d", len(req.Messages))
	}

	ctx := context.Background()
	var cancel context.CancelFunc
	if pr.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, pr.timeout)
		defer cancel()
	}

	rec := &kgo.Record{Topic: req.Topic, Value: req.Messages[0].Value}

	result := pr.client.ProduceSync(ctx, rec)
	if err := result.FirstErr(); err != nil {
		return collaborators.Ack{}, err
	}

	r := result[0]
	return collaborators.Ack{
		Topic:     r.Record.Topic,
		Partition: r.Record.Partition,
		Offset:    r.Record.Offset,
	}, nil
}
