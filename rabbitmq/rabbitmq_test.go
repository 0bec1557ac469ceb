package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/bjaus/consume"
)

type ackCall struct {
	tag      uint64
	multiple bool
	requeue  bool
}

// fakeAcknowledger records acknowledgments made on a channel.
type fakeAcknowledger struct {
	mu      sync.Mutex
	acks    []ackCall
	nacks   []ackCall
	rejects []ackCall
	err     error
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks = append(a.acks, ackCall{tag: tag, multiple: multiple})
	return a.err
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks = append(a.nacks, ackCall{tag: tag, multiple: multiple, requeue: requeue})
	return a.err
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejects = append(a.rejects, ackCall{tag: tag, requeue: requeue})
	return a.err
}

var _ amqp.Acknowledger = (*fakeAcknowledger)(nil)

var testEndpoint = consume.Endpoint{Name: "rabbitmq", Destination: "orders"}

func delivery(ack amqp.Acknowledger, tag uint64, body string) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  tag,
		RoutingKey:   "orders",
		Exchange:     "events",
		Body:         []byte(body),
	}
}

func TestToMessage(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	d := amqp.Delivery{
		Headers: amqp.Table{
			"tenant": "t1",
			"trace":  amqp.Table{"span": "a"},
			"hops":   []any{amqp.Table{"node": "n1"}, "n2"},
			"sig":    []byte("sig"),
		},
		ContentType:   "application/json",
		CorrelationId: "corr-1",
		ReplyTo:       "replies",
		MessageId:     "msg-1",
		Timestamp:     ts,
		Type:          "order/created",
		AppId:         "shop",
		ConsumerTag:   "ctag",
		DeliveryTag:   7,
		Redelivered:   true,
		Exchange:      "events",
		RoutingKey:    "orders",
		Body:          []byte(`{"id": 1}`),
	}

	msg := ToMessage(d)

	assert.Equal(t, "msg-1", msg.ID)
	assert.Equal(t, "corr-1", msg.CorrelationID)
	assert.Equal(t, "replies", msg.ReplyTo)
	assert.Equal(t, "orders", msg.Destination)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, ts, msg.Timestamp)
	assert.True(t, msg.Redelivered)
	assert.Equal(t, "t1", msg.Headers["tenant"])
	assert.Equal(t, "events", msg.Headers[HeaderExchange])
	assert.Equal(t, "orders", msg.Headers[HeaderRoutingKey])
	assert.Equal(t, "ctag", msg.Headers[HeaderConsumerTag])
	assert.Equal(t, "order/created", msg.Headers[HeaderType])
	assert.Equal(t, "shop", msg.Headers[HeaderAppID])

	tag, ok := DeliveryTag(msg)
	require.True(t, ok)
	assert.Equal(t, uint64(7), tag)

	assert.Equal(t, map[string]any{"span": "a"}, msg.Headers["trace"])
	assert.Equal(t, []any{map[string]any{"node": "n1"}, "n2"}, msg.Headers["hops"])

	d.Body[0] = 'X'
	d.Headers["tenant"] = "changed"
	d.Headers["trace"].(amqp.Table)["span"] = "changed"
	d.Headers["hops"].([]any)[0].(amqp.Table)["node"] = "changed"
	d.Headers["sig"].([]byte)[0] = 'X'
	assert.Equal(t, `{"id": 1}`, string(msg.Body))
	assert.Equal(t, "t1", msg.Headers["tenant"])
	assert.Equal(t, "a", msg.Headers["trace"].(map[string]any)["span"])
	assert.Equal(t, "n1", msg.Headers["hops"].([]any)[0].(map[string]any)["node"])
	assert.Equal(t, []byte("sig"), msg.Headers["sig"])
}

func TestDeliveryTag_Missing(t *testing.T) {
	_, ok := DeliveryTag(consume.Message{})
	assert.False(t, ok)

	_, ok = DeliveryTag(consume.Message{Headers: map[string]any{HeaderDeliveryTag: "7"}})
	assert.False(t, ok)
}

// listenerFunc adapts a function to Listener.
type listenerFunc func(ctx context.Context, msg consume.Message) error

func (f listenerFunc) OnDeliver(ctx context.Context, msg consume.Message) error {
	return f(ctx, msg)
}

type ConsumerSuite struct {
	suite.Suite
	ack *fakeAcknowledger
}

func (s *ConsumerSuite) SetupTest() {
	s.ack = &fakeAcknowledger{}
}

func TestConsumerSuite(t *testing.T) {
	suite.Run(t, new(ConsumerSuite))
}

func (s *ConsumerSuite) TestDeliversInOrderAndAcks() {
	var bodies []string
	l := listenerFunc(func(ctx context.Context, msg consume.Message) error {
		bodies = append(bodies, string(msg.Body))
		return nil
	})

	deliveries := make(chan amqp.Delivery, 3)
	deliveries <- delivery(s.ack, 1, "a")
	deliveries <- delivery(s.ack, 2, "b")
	deliveries <- delivery(s.ack, 3, "c")
	close(deliveries)

	err := NewConsumer(l).Consume(context.Background(), deliveries)

	s.Require().NoError(err)
	s.Assert().Equal([]string{"a", "b", "c"}, bodies)
	s.Assert().Equal([]ackCall{{tag: 1}, {tag: 2}, {tag: 3}}, s.ack.acks)
	s.Assert().Empty(s.ack.nacks)
}

func (s *ConsumerSuite) TestNacksFailedDelivery() {
	l := listenerFunc(func(ctx context.Context, msg consume.Message) error {
		return &consume.DispatchError{Err: errors.New("bad")}
	})

	deliveries := make(chan amqp.Delivery, 1)
	deliveries <- delivery(s.ack, 1, "a")
	close(deliveries)

	s.Require().NoError(NewConsumer(l, WithRequeue(false)).Consume(context.Background(), deliveries))

	s.Assert().Empty(s.ack.acks)
	s.Assert().Equal([]ackCall{{tag: 1, requeue: false}}, s.ack.nacks)
}

func (s *ConsumerSuite) TestAckNoneLeavesDeliveries() {
	l := listenerFunc(func(ctx context.Context, msg consume.Message) error { return nil })

	deliveries := make(chan amqp.Delivery, 1)
	deliveries <- delivery(s.ack, 1, "a")
	close(deliveries)

	s.Require().NoError(NewConsumer(l, WithAckMode(AckNone)).Consume(context.Background(), deliveries))

	s.Assert().Empty(s.ack.acks)
	s.Assert().Empty(s.ack.nacks)
}

func (s *ConsumerSuite) TestStopsOnContextCancel() {
	l := listenerFunc(func(ctx context.Context, msg consume.Message) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewConsumer(l).Consume(ctx, make(chan amqp.Delivery))
	s.Assert().ErrorIs(err, context.Canceled)
}

func (s *ConsumerSuite) TestAckErrorDoesNotStopConsumer() {
	s.ack.err = errors.New("channel closed")
	var count int
	l := listenerFunc(func(ctx context.Context, msg consume.Message) error {
		count++
		return nil
	})

	deliveries := make(chan amqp.Delivery, 2)
	deliveries <- delivery(s.ack, 1, "a")
	deliveries <- delivery(s.ack, 2, "b")
	close(deliveries)

	s.Require().NoError(NewConsumer(l).Consume(context.Background(), deliveries))
	s.Assert().Equal(2, count)
}

type SynchronizationSuite struct {
	suite.Suite
	ctx context.Context
	ack *fakeAcknowledger
}

func (s *SynchronizationSuite) SetupTest() {
	s.ctx = context.Background()
	s.ack = &fakeAcknowledger{}
}

func TestSynchronizationSuite(t *testing.T) {
	suite.Run(t, new(SynchronizationSuite))
}

func (s *SynchronizationSuite) exchange(tag uint64) *consume.Exchange {
	return consume.NewExchange(testEndpoint, ToMessage(delivery(s.ack, tag, "{}")))
}

func (s *SynchronizationSuite) TestCommitAcksMultiple() {
	completion := NewSynchronization(s.ack, nil)

	s.Require().NoError(completion.OnComplete(s.ctx, s.exchange(4)))
	s.Assert().Equal([]ackCall{{tag: 4, multiple: true}}, s.ack.acks)
}

func (s *SynchronizationSuite) TestRollbackNacksAndRequeues() {
	completion := NewSynchronization(s.ack, nil)

	s.Require().NoError(completion.OnFailure(s.ctx, s.exchange(4)))
	s.Assert().Equal([]ackCall{{tag: 4, multiple: true, requeue: true}}, s.ack.nacks)
}

func (s *SynchronizationSuite) TestMissingDeliveryTag() {
	completion := NewSynchronization(s.ack, nil)
	ex := consume.NewExchange(testEndpoint, consume.Message{})

	s.Assert().ErrorIs(completion.OnComplete(s.ctx, ex), ErrNoDeliveryTag)
	s.Assert().ErrorIs(completion.OnFailure(s.ctx, ex), ErrNoDeliveryTag)
}

func (s *SynchronizationSuite) TestWrapsAckErrors() {
	s.ack.err = errors.New("channel closed")
	completion := NewSynchronization(s.ack, nil)

	s.Assert().ErrorIs(completion.OnComplete(s.ctx, s.exchange(1)), s.ack.err)
	s.Assert().ErrorIs(completion.OnFailure(s.ctx, s.exchange(1)), s.ack.err)
}

func (s *SynchronizationSuite) TestTransactedBatchEndToEnd() {
	proc := consume.ProcessorFunc(func(ctx context.Context, ex *consume.Exchange) error {
		if string(ex.In().Body) == "fail" {
			return errors.New("rejected")
		}
		return nil
	})

	strategy := consume.BatchCommitStrategy(2)
	d, err := consume.New(testEndpoint, consume.InOnly(proc),
		consume.WithTransacted(true),
		consume.WithCommitStrategy(strategy),
		consume.WithSynchronization(NewSynchronization(s.ack, strategy)),
	)
	s.Require().NoError(err)

	deliveries := make(chan amqp.Delivery, 4)
	deliveries <- delivery(s.ack, 1, "ok")
	deliveries <- delivery(s.ack, 2, "ok")
	deliveries <- delivery(s.ack, 3, "ok")
	deliveries <- delivery(s.ack, 4, "fail")
	close(deliveries)

	s.Require().NoError(NewConsumer(d, WithAckMode(AckNone)).Consume(s.ctx, deliveries))

	s.Assert().Equal([]ackCall{{tag: 2, multiple: true}}, s.ack.acks)
	s.Assert().Equal([]ackCall{{tag: 4, multiple: true, requeue: true}}, s.ack.nacks)
}

type publishCall struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakePublisher struct {
	calls []publishCall
	err   error
}

func (p *fakePublisher) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	p.calls = append(p.calls, publishCall{exchange: exchange, key: key, msg: msg})
	return p.err
}

func TestReplier(t *testing.T) {
	ctx := context.Background()
	request := consume.Message{ID: "req-1", ReplyTo: "replies", Body: []byte("World")}

	t.Run("publishes out message", func(t *testing.T) {
		pub := &fakePublisher{}
		ex := consume.NewExchange(testEndpoint, request)
		ex.SetOut(consume.Message{ContentType: "text/plain", Headers: map[string]any{"k": "v"}, Body: []byte("Bye World")})

		require.NoError(t, NewReplier(pub).Reply(ctx, ex))

		require.Len(t, pub.calls, 1)
		call := pub.calls[0]
		assert.Equal(t, "", call.exchange)
		assert.Equal(t, "replies", call.key)
		assert.Equal(t, "req-1", call.msg.CorrelationId)
		assert.Equal(t, "text/plain", call.msg.ContentType)
		assert.Equal(t, "v", call.msg.Headers["k"])
		assert.Equal(t, "Bye World", string(call.msg.Body))
	})

	t.Run("prefers request correlation id", func(t *testing.T) {
		pub := &fakePublisher{}
		req := request
		req.CorrelationID = "corr-9"
		ex := consume.NewExchange(testEndpoint, req)

		require.NoError(t, NewReplier(pub).Reply(ctx, ex))
		assert.Equal(t, "corr-9", pub.calls[0].msg.CorrelationId)
	})

	t.Run("publishes failure header", func(t *testing.T) {
		pub := &fakePublisher{}
		ex := consume.NewExchange(testEndpoint, request)

		require.NoError(t, NewReplier(pub).Fail(ctx, ex, errors.New("boom")))
		assert.Equal(t, "boom", pub.calls[0].msg.Headers[HeaderError])
		assert.Empty(t, pub.calls[0].msg.Body)
	})

	t.Run("request-reply through InOut", func(t *testing.T) {
		pub := &fakePublisher{}
		proc := consume.InOut(consume.ProcessorFunc(func(ctx context.Context, ex *consume.Exchange) error {
			ex.SetOut(consume.Message{Body: append([]byte("Bye "), ex.In().Body...)})
			return nil
		}), NewReplier(pub))

		d, err := consume.New(testEndpoint, proc)
		require.NoError(t, err)
		require.NoError(t, d.OnDeliver(ctx, request))

		require.Len(t, pub.calls, 1)
		assert.Equal(t, "Bye World", string(pub.calls[0].msg.Body))
	})
}

type AckOnOutcomeSuite struct {
	suite.Suite
	ctx context.Context
	ack *fakeAcknowledger
}

func (s *AckOnOutcomeSuite) SetupTest() {
	s.ctx = context.Background()
	s.ack = &fakeAcknowledger{}
}

func TestAckOnOutcomeSuite(t *testing.T) {
	suite.Run(t, new(AckOnOutcomeSuite))
}

func (s *AckOnOutcomeSuite) dispatcher(proc consume.Processor, opts ...consume.Option) *consume.Dispatcher {
	d, err := consume.New(testEndpoint, proc, append(opts, AckOnOutcome(s.ack, true, nil)...)...)
	s.Require().NoError(err)
	return d
}

func (s *AckOnOutcomeSuite) TestAcksSuccess() {
	d := s.dispatcher(consume.ProcessorFunc(func(context.Context, *consume.Exchange) error { return nil }))

	s.Require().NoError(d.OnDeliver(s.ctx, ToMessage(delivery(s.ack, 1, "{}"))))
	s.Assert().Equal([]ackCall{{tag: 1}}, s.ack.acks)
	s.Assert().Empty(s.ack.nacks)
}

func (s *AckOnOutcomeSuite) TestNacksAbsorbedFailure() {
	d := s.dispatcher(consume.InOnly(consume.ProcessorFunc(func(context.Context, *consume.Exchange) error {
		return errors.New("db down")
	})))

	s.Require().NoError(d.OnDeliver(s.ctx, ToMessage(delivery(s.ack, 2, "{}"))))
	s.Assert().Empty(s.ack.acks)
	s.Assert().Equal([]ackCall{{tag: 2, requeue: true}}, s.ack.nacks)
}

func (s *AckOnOutcomeSuite) TestAcksSkipped() {
	d := s.dispatcher(
		consume.ProcessorFunc(func(context.Context, *consume.Exchange) error { return nil }),
		consume.WithSelector(consume.HasHeaders("missing")),
	)

	s.Require().NoError(d.OnDeliver(s.ctx, ToMessage(delivery(s.ack, 3, "{}"))))
	s.Assert().Equal([]ackCall{{tag: 3}}, s.ack.acks)
}

func (s *AckOnOutcomeSuite) TestDeadLettersUnbuildableMessage() {
	d := s.dispatcher(
		consume.ProcessorFunc(func(context.Context, *consume.Exchange) error { return nil }),
		consume.WithBuilder(consume.JSONBuilder()),
	)

	s.Require().Error(d.OnDeliver(s.ctx, ToMessage(delivery(s.ack, 4, "not json"))))
	s.Assert().Equal([]ackCall{{tag: 4, requeue: false}}, s.ack.nacks)
}

func (s *AckOnOutcomeSuite) TestWaitsForPooledProcessing() {
	release := make(chan struct{})
	pool := consume.NewWorkerPool(1, nil)
	d := s.dispatcher(
		consume.ProcessorFunc(func(context.Context, *consume.Exchange) error {
			<-release
			return nil
		}),
		consume.WithSynchronous(false),
		consume.WithPool(pool),
	)

	s.Require().NoError(d.OnDeliver(s.ctx, ToMessage(delivery(s.ack, 5, "{}"))))
	s.ack.mu.Lock()
	s.Assert().Empty(s.ack.acks)
	s.ack.mu.Unlock()

	close(release)
	pool.Close()
	s.Assert().Equal([]ackCall{{tag: 5}}, s.ack.acks)
}
