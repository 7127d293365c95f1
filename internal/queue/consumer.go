package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "os"
    "path/filepath"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "github.com/rs/zerolog"
    "github.com/rs/zerolog/log"
)

// AuditLog writes one JSON line per AuthEvent.
type AuditLog struct {
    out zerolog.Logger
}

func NewAuditLog(w io.Writer) *AuditLog {
    return &AuditLog{out: zerolog.New(w)}
}

// OpenAuditLog appends to <dir>/auth.log, creating the directory if needed.
func OpenAuditLog(dir string) (*AuditLog, io.Closer, error) {
    if err := os.MkdirAll(dir, 0o755); err != nil {
        return nil, nil, fmt.Errorf("mkdir %s: %w", dir, err)
    }
    f, err := os.OpenFile(filepath.Join(dir, "auth.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
    if err != nil {
        return nil, nil, fmt.Errorf("open audit log: %w", err)
    }
    return NewAuditLog(f), f, nil
}

// Handle decodes a delivery body and records it.
func (a *AuditLog) Handle(body []byte) error {
    var ev AuthEvent
    if err := json.Unmarshal(body, &ev); err != nil {
        return fmt.Errorf("unmarshal: %w", err)
    }
    if ev.Type == "" || ev.UserID == "" {
        return errors.New("event without type or user")
    }
    a.out.Log().
        Time("at", ev.At).
        Str("event", string(ev.Type)).
        Str("user_id", ev.UserID).
        Str("email", ev.Email).
        Str("provider", ev.Provider).
        Str("remote_ip", ev.RemoteIP).
        Send()
    return nil
}

// StartAuditConsumer connects to RabbitMQ, declares the auth.events queue
// (durable) and feeds every delivery to sink.  It reconnects with
// exponential backoff and returns only when ctx is cancelled.
func StartAuditConsumer(ctx context.Context, url string, sink *AuditLog) error {
    backoff := time.Second
    for {
        conn, err := amqp.Dial(url)
        if err != nil {
            log.Warn().Err(err).Dur("retry_in", backoff).Msg("audit-consumer: failed to dial broker")
            if !sleep(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second // reset after successful connect

        err = consumeLoop(ctx, conn, sink)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        log.Warn().Err(err).Msg("audit-consumer: consume loop ended; reconnecting")
        if !sleep(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, sink *AuditLog) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        log.Warn().Err(err).Msg("audit-consumer: set QoS failed")
    }
    if _, err := ch.QueueDeclare(AuthEventsQueue, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    msgs, err := ch.Consume(AuthEventsQueue, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }

    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case d, ok := <-msgs:
            if !ok {
                return errors.New("deliveries channel closed")
            }
            if err := sink.Handle(d.Body); err != nil {
                log.Warn().Err(err).Msg("audit-consumer: handle message failed")
                _ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
                continue
            }
            _ = d.Ack(false)
        }
    }
}

func sleep(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}
