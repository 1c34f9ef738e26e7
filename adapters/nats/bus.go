package nats

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	natsgo "github.com/nats-io/nats.go"

	"github.com/codewandler/streamstore/core/es"
)

const defaultBusPrefix = "streamstore.events"

type BusConfig struct {
	Connect       Connector
	Log           *slog.Logger
	SubjectPrefix string
	// Serializer decodes received payloads. It is only required by Subscribe.
	Serializer es.EventSerializer
}

// Bus is an es.EventBus publishing committed events with core NATS on
// <prefix>.<event type>.<stream token>. Delivery is at most once.
type Bus struct {
	nc        *natsgo.Conn
	closeConn closeFunc
	log       *slog.Logger
	prefix    string
	converter *es.Converter
}

func NewBus(cfg BusConfig) (*Bus, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}
	nc, closeConn, err := doConnect()
	if err != nil {
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	prefix := strings.TrimSuffix(cfg.SubjectPrefix, ".")
	if prefix == "" {
		prefix = defaultBusPrefix
	}

	b := &Bus{
		nc:        nc,
		closeConn: closeConn,
		log:       log.With(slog.String("bus", "nats"), slog.String("prefix", prefix)),
		prefix:    prefix,
	}
	if cfg.Serializer != nil {
		b.converter = es.NewConverter(cfg.Serializer)
	}
	return b, nil
}

func (b *Bus) Close() error {
	b.closeConn()
	return nil
}

// Subject is the subject events of eventType on stream id are published on.
func (b *Bus) Subject(eventType string, id es.StreamID) string {
	return b.prefix + "." + eventType + "." + base64.RawURLEncoding.EncodeToString([]byte(id))
}

func (b *Bus) Publish(ctx context.Context, e es.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.Payload == nil {
		return errors.New("event has no payload")
	}

	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", e.Type(), err)
	}
	data, err := json.Marshal(es.Record{
		ID:         e.ID,
		Version:    e.Version,
		ActorID:    e.ActorID,
		OccurredOn: e.OccurredOn,
		IsDeleted:  e.IsDeleted,
		TypeName:   e.Type(),
		Payload:    payload,
	})
	if err != nil {
		return err
	}

	msg := natsgo.NewMsg(b.Subject(e.Type(), e.StreamID))
	msg.Header.Set(headerStreamID, e.StreamID.String())
	msg.Header.Set(natsgo.MsgIdHdr, e.ID.String())
	msg.Data = data

	if err := b.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", msg.Subject, err)
	}
	return nil
}

// Subscribe delivers events of eventType to h until ctx is done. An empty
// eventType subscribes to every event.
func (b *Bus) Subscribe(ctx context.Context, eventType string, h es.Handler) error {
	if b.converter == nil {
		return errors.New("bus has no serializer")
	}

	subject := b.prefix + ".>"
	if eventType != "" {
		subject = b.prefix + "." + eventType + ".*"
	}

	sub, err := b.nc.Subscribe(subject, func(msg *natsgo.Msg) {
		e, err := b.decode(msg)
		if err != nil {
			b.log.Error("failed to decode event", slog.String("subject", msg.Subject), slog.Any("error", err))
			return
		}
		if err := h.Handle(ctx, e); err != nil {
			b.log.Error("handler failed", slog.Any("event", e), slog.Any("error", err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	context.AfterFunc(ctx, func() {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, natsgo.ErrConnectionClosed) {
			b.log.Debug("unsubscribe failed", slog.Any("error", err))
		}
	})
	return b.nc.Flush()
}

func (b *Bus) decode(msg *natsgo.Msg) (es.Event, error) {
	var r es.Record
	if err := json.Unmarshal(msg.Data, &r); err != nil {
		return es.Event{}, err
	}
	return b.converter.FromRecord(es.StreamID(msg.Header.Get(headerStreamID)), r)
}

var _ es.EventBus = (*Bus)(nil)
