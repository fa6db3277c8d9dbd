package workers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"penelope-batcher/history"
	"penelope-batcher/models"
)

/************************************************
/**** MARK: DISPATCH STAGES ****/
/************************************************/
const STAGE_DRAIN = "drain"
const STAGE_HISTORY = "history"
const STAGE_RESPOND = "respond"
const STAGE_DELIVER = "deliver"

const DEFAULT_DISPATCH_TIMEOUT = 60 * time.Second

// DownstreamCallError tells which step of a dispatch failed for which key.
type DownstreamCallError struct {
	Key   string
	Stage string
	Err   error
}

func (e *DownstreamCallError) Error() string {
	return fmt.Sprintf("dispatch %s: %s failed: %v", e.Key, e.Stage, e.Err)
}

func (e *DownstreamCallError) Unwrap() error { return e.Err }

// Drainer is the read side of the mailbox.
type Drainer interface {
	Drain(ctx context.Context, key string) ([]models.Event, error)
}

type HistoryStore interface {
	Append(ctx context.Context, key string, rec models.Record) error
	Recent(ctx context.Context, key string, limit int) ([]models.Record, error)
}

// Responder produces the assistant reply for a conversation whose last
// record is the new user turn.
type Responder interface {
	Respond(ctx context.Context, key string, conversation []models.Record) (string, error)
}

// Gateway delivers a reply to the user.
type Gateway interface {
	Send(ctx context.Context, key string, text string) error
}

// Dispatcher turns everything buffered for a key into one reply.
type Dispatcher struct {
	Mailbox      Drainer
	History      HistoryStore
	Responder    Responder
	Gateway      Gateway
	HistoryLimit int
	Timeout      time.Duration
	Logger       *slog.Logger
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// Process drains key, records the batch as one user turn, asks the responder
// and sends the answer. An empty mailbox is a no-op.
func (d *Dispatcher) Process(ctx context.Context, key string) error {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DEFAULT_DISPATCH_TIMEOUT
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	events, err := d.Mailbox.Drain(ctx, key)
	if err != nil {
		return &DownstreamCallError{Key: key, Stage: STAGE_DRAIN, Err: err}
	}
	if len(events) == 0 {
		return nil
	}

	units := d.collect(key, events)
	if len(units) == 0 {
		d.logger().Info("batch had no usable content", "key", key, "events", len(events))
		return nil
	}

	limit := d.HistoryLimit
	if limit <= 0 {
		limit = history.DEFAULT_LIMIT
	}
	prior, err := d.History.Recent(ctx, key, limit)
	if err != nil {
		return &DownstreamCallError{Key: key, Stage: STAGE_HISTORY, Err: err}
	}

	userRec, err := models.NewUserRecord(units)
	if err != nil {
		return &DownstreamCallError{Key: key, Stage: STAGE_HISTORY, Err: err}
	}
	if err := d.History.Append(ctx, key, userRec); err != nil {
		return &DownstreamCallError{Key: key, Stage: STAGE_HISTORY, Err: err}
	}

	reply, err := d.Responder.Respond(ctx, key, append(prior, userRec))
	if err == nil && strings.TrimSpace(reply) == "" {
		err = fmt.Errorf("empty reply")
	}
	if err != nil {
		return &DownstreamCallError{Key: key, Stage: STAGE_RESPOND, Err: err}
	}
	reply = strings.TrimSpace(reply)

	if asst, err := models.NewAssistantRecord(reply); err == nil {
		if err := d.History.Append(ctx, key, asst); err != nil {
			d.logger().Warn("assistant reply not stored", "key", key, "stage", STAGE_HISTORY, "error", err)
		}
	}

	if err := d.Gateway.Send(ctx, key, reply); err != nil {
		return &DownstreamCallError{Key: key, Stage: STAGE_DELIVER, Err: err}
	}

	d.logger().Info("batch dispatched", "key", key, "events", len(events), "units", len(units))
	return nil
}

// collect normalizes drained events in arrival order. Events that cannot be
// read are skipped.
func (d *Dispatcher) collect(key string, events []models.Event) []models.Content {
	var units []models.Content
	for _, ev := range events {
		payload, err := models.ParseWebhookPayload(ev.Payload)
		if err != nil {
			d.logger().Warn("skipping malformed event", "key", key, "event", ev.ID, "error", err)
			continue
		}
		contents, err := payload.Contents()
		if err != nil {
			d.logger().Warn("skipping unreadable message", "key", key, "event", ev.ID, "error", err)
			continue
		}
		units = append(units, contents...)
	}
	return units
}
