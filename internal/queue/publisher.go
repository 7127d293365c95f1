package queue

import (
    "context"
    "encoding/json"
    "errors"
    "net"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "github.com/rs/zerolog/log"
)

// Publisher delivers AuthEvents.  Callers treat failures as non-fatal.
type Publisher interface {
    Publish(ctx context.Context, ev AuthEvent) error
}

// NopPublisher drops every event.  Used when EVENTS_ENABLED is false.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, AuthEvent) error { return nil }

// redialBackoff is how long a failed dial suppresses further attempts.
const redialBackoff = 5 * time.Second

// errBrokerBackoff is returned while a recent dial failure is cooling down.
var errBrokerBackoff = errors.New("rabbitmq: broker unavailable, retry later")

// AMQPPublisher publishes events to the auth.events queue.  The connection
// is dialed on first use and re-dialed after any failure.  Dialing and
// waiting for a concurrent publisher both honour the caller's context.
type AMQPPublisher struct {
    url string

    sem     chan struct{} // one holder at a time; acquired with ctx
    conn    *amqp.Connection
    ch      *amqp.Channel
    retryAt time.Time
}

func NewAMQPPublisher(url string) *AMQPPublisher {
    return &AMQPPublisher{url: url, sem: make(chan struct{}, 1)}
}

func (p *AMQPPublisher) lock(ctx context.Context) error {
    select {
    case p.sem <- struct{}{}:
        return nil
    case <-ctx.Done():
        return ctx.Err()
    }
}

func (p *AMQPPublisher) unlock() { <-p.sem }

// Publish sends ev as a persistent JSON message.  Errors are logged and
// returned so the caller can choose to ignore them.
func (p *AMQPPublisher) Publish(ctx context.Context, ev AuthEvent) error {
    body, err := json.Marshal(ev)
    if err != nil {
        return err
    }

    if err := p.lock(ctx); err != nil {
        return err
    }
    defer p.unlock()

    ch, err := p.channel(ctx)
    if err != nil {
        log.Warn().Err(err).Msg("rabbitmq: connect failed")
        return err
    }

    pub := amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent, // store on disk
        Timestamp:    time.Now().UTC(),
        Type:         string(ev.Type),
        Body:         body,
    }
    if err := ch.PublishWithContext(ctx,
        "",              // default exchange
        AuthEventsQueue, // routing key = queue name
        false,           // mandatory
        false,           // immediate
        pub,
    ); err != nil {
        log.Warn().Err(err).Str("event", string(ev.Type)).Msg("rabbitmq: publish failed")
        p.reset()
        return err
    }
    return nil
}

// Close releases the broker connection.
func (p *AMQPPublisher) Close() error {
    _ = p.lock(context.Background())
    defer p.unlock()
    p.reset()
    return nil
}

// channel returns the open channel, dialing when needed.  The lock must
// be held.
func (p *AMQPPublisher) channel(ctx context.Context) (*amqp.Channel, error) {
    if p.ch != nil && !p.ch.IsClosed() {
        return p.ch, nil
    }
    p.reset()
    if time.Now().Before(p.retryAt) {
        return nil, errBrokerBackoff
    }
    conn, err := amqp.DialConfig(p.url, amqp.Config{
        Heartbeat: 10 * time.Second,
        Locale:    "en_US",
        Dial:      contextDialer(ctx),
    })
    if err != nil {
        p.retryAt = time.Now().Add(redialBackoff)
        return nil, err
    }
    ch, err := conn.Channel()
    if err != nil {
        _ = conn.Close()
        return nil, err
    }
    // Ensure the queue exists (idempotent). Durable so messages survive broker restarts.
    if _, err := ch.QueueDeclare(AuthEventsQueue, true, false, false, false, nil); err != nil {
        _ = ch.Close()
        _ = conn.Close()
        return nil, err
    }
    p.conn, p.ch = conn, ch
    return ch, nil
}

func (p *AMQPPublisher) reset() {
    if p.ch != nil {
        _ = p.ch.Close()
    }
    if p.conn != nil {
        _ = p.conn.Close()
    }
    p.conn, p.ch = nil, nil
}

// contextDialer connects within ctx and bounds the AMQP handshake by the
// ctx deadline.  The client clears the deadline once the connection is
// open.
func contextDialer(ctx context.Context) func(network, addr string) (net.Conn, error) {
    return func(network, addr string) (net.Conn, error) {
        var d net.Dialer
        conn, err := d.DialContext(ctx, network, addr)
        if err != nil {
            return nil, err
        }
        deadline, ok := ctx.Deadline()
        if !ok {
            deadline = time.Now().Add(30 * time.Second)
        }
        if err := conn.SetDeadline(deadline); err != nil {
            _ = conn.Close()
            return nil, err
        }
        return conn, nil
    }
}
