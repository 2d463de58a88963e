package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/MATTHEWPURBA/server-myshoes-store/internal/domain"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/resilience"
)

const (
	deadLetterExchange = "dlx"
	deadLetterSuffix   = "_dlq"

	// Unconsumed work expires into the dead-letter queue instead of
	// piling up while consumers are down.
	queueMessageTTL = 60_000 // milliseconds

	reconnectBase     = 2 * time.Second
	reconnectMult     = 1.5
	reconnectMax      = 30 * time.Second
	maxReconnectTries = 10

	healthProbeInterval = 10 * time.Second
	staleConnWindow     = 60 * time.Second
)

var errNotConnected = errors.New("broker not connected")

type consumerSpec struct {
	queue   string
	handler func(ctx context.Context, body []byte) error
}

// AMQPBroker is the RabbitMQ-backed Broker. It reconnects with backoff
// when the connection drops, re-registers its consumers afterwards, and
// spills unpublishable requests to the local queue.
type AMQPBroker struct {
	url   string
	log   *slog.Logger
	spill *SpillQueue

	publishPolicy *resilience.RetryPolicy

	mu           sync.Mutex
	conn         *amqp.Connection
	ch           *amqp.Channel
	consumers    []consumerSpec
	drain        DrainHandler
	lastOK       time.Time
	reconnecting bool
	closed       bool

	noop func() error // test hook, defaults to checkQueue

	runCtx context.Context
}

// NewAMQP connects to the broker at url. A failed first dial is not
// fatal: the reconnect loop keeps trying in the background and
// publishes spill locally until it succeeds.
func NewAMQP(ctx context.Context, url string, log *slog.Logger) *AMQPBroker {
	b := &AMQPBroker{
		url:           url,
		log:           log,
		spill:         NewSpillQueue(SpillLimit, log),
		publishPolicy: resilience.PublishRetryPolicy(),
		runCtx:        ctx,
	}
	b.noop = b.checkQueue
	if err := b.connect(); err != nil {
		log.Warn("initial broker connection failed, will retry", "error", err)
		go b.reconnect()
	}
	return b
}

func (b *AMQPBroker) SetDrainHandler(handler DrainHandler) {
	b.mu.Lock()
	b.drain = handler
	b.mu.Unlock()
}

// connect dials, declares topology and re-registers consumers. Holds
// no lock while dialing so health checks stay responsive.
func (b *AMQPBroker) connect() error {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := declareTopology(ch); err != nil {
		conn.Close()
		return fmt.Errorf("declare topology: %w", err)
	}
	// One unacked message at a time per consumer.
	if err := ch.Qos(1, 0, false); err != nil {
		conn.Close()
		return fmt.Errorf("set qos: %w", err)
	}

	b.mu.Lock()
	b.conn = conn
	b.ch = ch
	b.lastOK = time.Now()
	consumers := append([]consumerSpec(nil), b.consumers...)
	b.mu.Unlock()

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go b.watchClose(closed)

	for _, spec := range consumers {
		if err := b.startConsumer(ch, spec); err != nil {
			b.log.Error("failed to restart consumer", "queue", spec.queue, "error", err)
		}
	}

	b.log.Info("broker connected", "url", b.url)
	go b.drainSpill()
	return nil
}

// declareTopology sets up the two work queues, the dead-letter
// exchange and the matching dead-letter queues.
func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(deadLetterExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", deadLetterExchange, err)
	}
	for _, queue := range []string{domain.QueueRequests, domain.QueueResponses} {
		dlq := queue + deadLetterSuffix
		if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", dlq, err)
		}
		if err := ch.QueueBind(dlq, queue, deadLetterExchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", dlq, err)
		}
		if _, err := ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
			"x-dead-letter-exchange":    deadLetterExchange,
			"x-dead-letter-routing-key": queue,
			"x-message-ttl":             int32(queueMessageTTL),
		}); err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
	}
	return nil
}

func (b *AMQPBroker) watchClose(closed <-chan *amqp.Error) {
	err, ok := <-closed
	if !ok {
		return
	}
	b.mu.Lock()
	alreadyClosed := b.closed
	b.conn = nil
	b.ch = nil
	b.mu.Unlock()
	if alreadyClosed {
		return
	}
	b.log.Warn("broker connection lost", "error", err)
	b.reconnect()
}

// reconnect retries with growing backoff up to maxReconnectTries, then
// gives up until the next publish or health check forces another try.
func (b *AMQPBroker) reconnect() {
	b.mu.Lock()
	if b.reconnecting || b.closed {
		b.mu.Unlock()
		return
	}
	b.reconnecting = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.reconnecting = false
		b.mu.Unlock()
	}()

	for attempt := 0; attempt < maxReconnectTries; attempt++ {
		delay := resilience.Backoff(reconnectBase, reconnectMult, attempt, reconnectMax)
		b.log.Info("reconnecting to broker", "attempt", attempt+1, "delay", delay)
		select {
		case <-b.runCtx.Done():
			return
		case <-time.After(delay):
		}

		if err := b.connect(); err != nil {
			b.log.Warn("broker reconnect failed", "attempt", attempt+1, "error", err)
			continue
		}
		return
	}
	b.log.Warn("broker reconnect attempts exhausted, retrying on demand only", "attempts", maxReconnectTries)
}

// Run checks the broker periodically with a real round trip, forcing a
// reconnect when the check fails or when no operation has succeeded
// within the stale window. Blocks until ctx is cancelled.
func (b *AMQPBroker) Run(ctx context.Context) {
	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.checkHealth()
		}
	}
}

func (b *AMQPBroker) checkHealth() {
	err := b.noop()

	b.mu.Lock()
	if err == nil {
		b.lastOK = time.Now()
	}
	stale := time.Since(b.lastOK) > staleConnWindow
	b.mu.Unlock()

	if err == nil && !stale {
		return
	}
	b.log.Warn("broker health check failed, forcing reconnect", "stale", stale, "error", err)
	b.forceReconnect()
}

// checkQueue round-trips the channel with a passive declare, the
// lightest operation that still proves the broker answers. IsClosed
// alone cannot see a half-dead connection.
func (b *AMQPBroker) checkQueue() error {
	b.mu.Lock()
	ch := b.ch
	b.mu.Unlock()
	if ch == nil {
		return errNotConnected
	}
	if _, err := ch.QueueDeclarePassive(domain.QueueRequests, true, false, false, false, nil); err != nil {
		return fmt.Errorf("check queue %s: %w", domain.QueueRequests, err)
	}
	return nil
}

// forceReconnect drops the current connection and dials anew. Closing
// the old connection first keeps watchClose from double-reconnecting.
func (b *AMQPBroker) forceReconnect() {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.ch = nil
	b.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	go b.reconnect()
}

func (b *AMQPBroker) Healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil && !b.conn.IsClosed()
}

func (b *AMQPBroker) ConnectionHealth() Health {
	b.mu.Lock()
	connected := b.conn != nil && !b.conn.IsClosed()
	lastOK := b.lastOK
	b.mu.Unlock()
	return Health{
		Connected:       connected,
		LastSuccessAt:   lastOK,
		LocalQueueDepth: b.spill.Len(),
	}
}

func (b *AMQPBroker) PublishRequest(ctx context.Context, req domain.QueuedRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if err := b.publish(ctx, domain.QueueRequests, body); err != nil {
		// User work is never dropped: degrade to local rule handling.
		b.spill.Add(req)
		go b.drainSpill()
		return err
	}
	return nil
}

func (b *AMQPBroker) PublishResponse(ctx context.Context, resp domain.QueuedResponse) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	return b.publish(ctx, domain.QueueResponses, body)
}

func (b *AMQPBroker) publish(ctx context.Context, queue string, body []byte) error {
	return b.publishPolicy.Execute(ctx, func(attempt int) error {
		b.mu.Lock()
		ch := b.ch
		b.mu.Unlock()
		if ch == nil {
			go b.reconnect()
			return errNotConnected
		}

		err := ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now(),
			Body:         body,
		})
		if err != nil {
			b.log.Error("publish failed", "queue", queue, "attempt", attempt, "error", err)
			go b.reconnect()
			return fmt.Errorf("publish to %s: %w", queue, err)
		}

		b.mu.Lock()
		b.lastOK = time.Now()
		b.mu.Unlock()
		return nil
	})
}

func (b *AMQPBroker) drainSpill() {
	b.mu.Lock()
	drain := b.drain
	b.mu.Unlock()
	if drain == nil || b.spill.Len() == 0 {
		return
	}
	n := b.spill.Drain(b.runCtx, drain)
	if n > 0 {
		b.log.Info("drained spill queue", "processed", n)
	}
}

func (b *AMQPBroker) ConsumeRequests(ctx context.Context, handler RequestHandler) error {
	return b.consume(ctx, domain.QueueRequests, func(ctx context.Context, body []byte) error {
		var req domain.QueuedRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return fmt.Errorf("malformed request payload: %w", err)
		}
		if req.SessionID == "" || req.Content == "" {
			return fmt.Errorf("request payload missing sessionId or content")
		}
		return handler(ctx, req)
	})
}

func (b *AMQPBroker) ConsumeResponses(ctx context.Context, handler ResponseHandler) error {
	return b.consume(ctx, domain.QueueResponses, func(ctx context.Context, body []byte) error {
		var resp domain.QueuedResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return fmt.Errorf("malformed response payload: %w", err)
		}
		return handler(ctx, resp)
	})
}

// consume registers a durable consumer. The registration is remembered
// so the consumer survives reconnects.
func (b *AMQPBroker) consume(ctx context.Context, queue string, handler func(context.Context, []byte) error) error {
	spec := consumerSpec{queue: queue, handler: handler}

	b.mu.Lock()
	b.consumers = append(b.consumers, spec)
	ch := b.ch
	b.mu.Unlock()

	if ch == nil {
		// The reconnect loop registers it once the connection is back.
		return errNotConnected
	}
	return b.startConsumer(ch, spec)
}

func (b *AMQPBroker) startConsumer(ch *amqp.Channel, spec consumerSpec) error {
	deliveries, err := ch.Consume(spec.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consumer for %s: %w", spec.queue, err)
	}
	b.log.Info("consumer registered", "queue", spec.queue)

	go func() {
		for d := range deliveries {
			if err := spec.handler(b.runCtx, d.Body); err != nil {
				b.log.Error("message rejected to dead-letter queue",
					"queue", spec.queue, "message_id", d.MessageId, "error", err)
				if nackErr := d.Nack(false, false); nackErr != nil {
					b.log.Error("nack failed", "queue", spec.queue, "error", nackErr)
				}
				continue
			}
			if ackErr := d.Ack(false); ackErr != nil {
				b.log.Error("ack failed", "queue", spec.queue, "error", ackErr)
			}
		}
	}()
	return nil
}

func (b *AMQPBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	conn := b.conn
	b.conn = nil
	b.ch = nil
	b.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
