package nats

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/streamstore/core/es"
)

const (
	defaultSubjectPrefix = "streamstore.es"
	defaultStreamName    = "STREAMSTORE_ES"
	defaultReadBatch     = 256
	defaultFetchWait     = 5 * time.Second

	headerStreamID     = "x-stream-id"
	headerStreamType   = "x-stream-type"
	headerFirstVersion = "x-first-version"
	headerVersion      = "x-version"
)

type EventStoreConfig struct {
	Connect        Connector    // Connect is used to create the underlying NATS connection. If nil, ConnectDefault() is used.
	Log            *slog.Logger // Log for diagnostics (optional)
	SubjectPrefix  string       // SubjectPrefix is the prefix of every stream subject
	StreamSubjects []string     // StreamSubjects defaults to SubjectPrefix.>
	StreamName     string
	Replicas       int
	MemoryStorage  bool // MemoryStorage keeps the JetStream stream in memory instead of on disk.
	ReadBatch      int  // ReadBatch is the number of messages fetched per round trip when reading a stream.

	// MaxAge, MaxBytes and MaxMsgs bound the JetStream stream. Zero means unlimited;
	// events dropped by a limit are gone for good.
	MaxAge   time.Duration
	MaxBytes int64
	MaxMsgs  int64
}

// EventStore is an es.Backend on a JetStream stream. Every append to a stream is a
// single message holding the appended records on the subject of that stream; the
// compare-and-append uses the per-subject last sequence expectation of JetStream.
type EventStore struct {
	nc            *natsgo.Conn
	closeConn     closeFunc
	js            jetstream.JetStream
	stream        jetstream.Stream
	log           *slog.Logger
	subjectPrefix string
	streamName    string
	readBatch     int
}

func NewEventStore(cfg EventStoreConfig) (*EventStore, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeConn, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeConn()
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = defaultStreamName
	}

	subjectPrefix := strings.TrimSuffix(cfg.SubjectPrefix, ".")
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}

	streamSubjects := cfg.StreamSubjects
	if len(streamSubjects) == 0 {
		streamSubjects = []string{subjectPrefix + ".>"}
	}

	readBatch := cfg.ReadBatch
	if readBatch <= 0 {
		readBatch = defaultReadBatch
	}

	// 0 means unlimited in NATS for these fields
	maxBytes := cfg.MaxBytes
	if maxBytes == 0 {
		maxBytes = -1
	}
	maxMsgs := cfg.MaxMsgs
	if maxMsgs == 0 {
		maxMsgs = -1
	}

	storage := jetstream.FileStorage
	if cfg.MemoryStorage {
		storage = jetstream.MemoryStorage
	}

	log = log.With(
		slog.String("backend", "nats_js"),
		slog.String("stream", streamName),
		slog.String("subjectPrefix", subjectPrefix),
	)

	log.Debug("ensuring stream")

	stream, streamInfo, err := ensureStream(js, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  streamSubjects,
		Retention: jetstream.LimitsPolicy,
		Storage:   storage,
		Replicas:  max(cfg.Replicas, 1),
		MaxAge:    cfg.MaxAge,
		MaxBytes:  maxBytes,
		MaxMsgs:   maxMsgs,
		FirstSeq:  1,
	})
	if err != nil {
		closeConn()
		return nil, err
	}

	log.Debug("ensured", slog.Uint64("msgs", streamInfo.State.Msgs), slog.Uint64("subjects", streamInfo.State.NumSubjects))

	return &EventStore{
		nc:            nc,
		closeConn:     closeConn,
		js:            js,
		stream:        stream,
		log:           log,
		subjectPrefix: subjectPrefix,
		streamName:    streamName,
		readBatch:     readBatch,
	}, nil
}

func (e *EventStore) Close() error {
	e.js.CleanupPublisher()
	e.closeConn()
	e.log.Debug("closed event store")
	return nil
}

func (e *EventStore) Atomicity() es.Atomicity { return es.StreamAtomic }

func (e *EventStore) Head(ctx context.Context, id es.StreamID) (es.StreamHead, bool, error) {
	head, _, ok, err := e.head(ctx, id)
	return head, ok, err
}

// ReadRange consumes the subject of stream id with an ordered consumer up to the
// last message that existed when the read started. The consumer always starts at
// the first message of the subject, only a range starting inside the last append
// is read from that message alone.
func (e *EventStore) ReadRange(ctx context.Context, id es.StreamID, from, to es.Version) (records []es.Record, err error) {
	startAt := time.Now()
	defer func() {
		if err == nil {
			e.log.Debug(
				"read range",
				slog.String("stream_id", id.String()),
				from.SlogAttrWithKey("from"),
				to.SlogAttrWithKey("to"),
				slog.Int("count", len(records)),
				slog.Duration("duration", time.Since(startAt)),
			)
		}
	}()

	last, err := e.lastMsg(ctx, id)
	if err != nil || last == nil {
		return nil, err
	}
	endSeq := last.Sequence

	// reads starting inside the last append need no consumer
	lastFirst, _, err := versionRange(last.Header)
	if err != nil {
		return nil, fmt.Errorf("stream %s seq %d: %w", id, endSeq, err)
	}
	if from >= lastFirst {
		batch, err := decodeRecords(last.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode stream %s seq %d: %w", id, endSeq, err)
		}
		return filterRange(records, batch, from, to), nil
	}

	cc, err := e.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		DeliverPolicy:  jetstream.DeliverAllPolicy,
		FilterSubjects: []string{e.subject(id)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer for stream %s: %w", id, err)
	}

outer:
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		mb, err := cc.Fetch(e.readBatch, jetstream.FetchMaxWait(defaultFetchWait))
		if err != nil {
			return nil, err
		}

		empty := true
		for msg := range mb.Messages() {
			empty = false

			md, err := msg.Metadata()
			if err != nil {
				return nil, err
			}

			first, last, err := versionRange(msg.Headers())
			if err != nil {
				return nil, fmt.Errorf("stream %s seq %d: %w", id, md.Sequence.Stream, err)
			}
			if to > 0 && first > to {
				break outer
			}
			if last >= from {
				batch, err := decodeRecords(msg.Data())
				if err != nil {
					return nil, fmt.Errorf("failed to decode stream %s seq %d: %w", id, md.Sequence.Stream, err)
				}
				records = filterRange(records, batch, from, to)
			}

			if md.Sequence.Stream >= endSeq {
				break outer
			}
		}
		if mb.Error() != nil {
			return nil, mb.Error()
		}
		if empty {
			return nil, fmt.Errorf("stream %s ended before sequence %d", id, endSeq)
		}
	}

	return records, nil
}

// StreamIDs lists the subjects of the JetStream stream and keeps those whose last
// message carries streamType.
func (e *EventStore) StreamIDs(ctx context.Context, streamType string) ([]es.StreamID, error) {
	info, err := e.stream.Info(ctx, jetstream.WithSubjectFilter(e.subjectPrefix+".>"))
	if err != nil {
		return nil, fmt.Errorf("failed to list subjects: %w", err)
	}

	ids := make([]es.StreamID, 0, len(info.State.Subjects))
	for subj := range info.State.Subjects {
		id, err := e.streamIDOf(subj)
		if err != nil {
			e.log.Warn("skipping foreign subject", slog.String("subject", subj), slog.Any("error", err))
			continue
		}
		if streamType != "" {
			head, ok, err := e.Head(ctx, id)
			if err != nil {
				return nil, err
			}
			if !ok || head.Type != streamType {
				continue
			}
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// Write runs fn directly against JetStream. Appends to different streams are
// independent messages, so a failing fn keeps the appends it already made.
func (e *EventStore) Write(ctx context.Context, fn func(tx es.BackendTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(e)
}

func (e *EventStore) CompareAndAppend(ctx context.Context, req es.AppendRequest) error {
	if len(req.Records) == 0 {
		return es.ErrNoEvents
	}

	head, seq, _, err := e.head(ctx, req.StreamID)
	if err != nil {
		return err
	}
	if head.Version != req.Expected {
		return fmt.Errorf("%w: stream %s is at %d, expected %d", es.ErrVersionConflict, req.StreamID, head.Version, req.Expected)
	}

	var (
		first = req.Records[0].Version
		last  = req.Records[len(req.Records)-1].Version
	)
	if first != req.Expected+1 || last != req.Expected+es.Version(len(req.Records)) {
		return fmt.Errorf("%w: records %d..%d do not follow %d", es.ErrVersionConflict, first, last, req.Expected)
	}

	subject := e.subject(req.StreamID)
	msg := natsgo.NewMsg(subject)
	msg.Header.Set(headerStreamID, req.StreamID.String())
	msg.Header.Set(headerStreamType, req.Type)
	msg.Header.Set(headerFirstVersion, strconv.FormatUint(first.Uint64(), 10))
	msg.Header.Set(headerVersion, strconv.FormatUint(last.Uint64(), 10))
	msg.Data, err = json.Marshal(req.Records)
	if err != nil {
		return err
	}

	ack, err := e.js.PublishMsg(
		ctx,
		msg,
		jetstream.WithExpectStream(e.streamName),
		jetstream.WithExpectLastSequencePerSubject(seq),
		jetstream.WithMsgID(msgID(subject, first)),
	)
	if isWrongLastSequence(err) {
		return fmt.Errorf("%w: subject %s moved past sequence %d", es.ErrVersionConflict, subject, seq)
	}
	if err != nil {
		return fmt.Errorf("failed to append to subject %s: %w", subject, err)
	}
	// the server stored nothing, version first of this subject was already appended
	if ack.Duplicate {
		return fmt.Errorf("%w: version %d of subject %s already appended at sequence %d", es.ErrVersionConflict, first, subject, ack.Sequence)
	}

	e.log.Debug(
		"appended",
		slog.String("stream_id", req.StreamID.String()),
		last.SlogAttr(),
		slog.Uint64("seq", ack.Sequence),
	)
	return nil
}

func ensureStream(js jetstream.JetStream, cfg jetstream.StreamConfig) (s jetstream.Stream, si *jetstream.StreamInfo, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*natsgo.DefaultTimeout)
	defer cancel()

	s, err = js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	si, err = s.Info(ctx)
	if err != nil {
		return nil, nil, err
	}
	return s, si, nil
}

func (e *EventStore) lastMsg(ctx context.Context, id es.StreamID) (*jetstream.RawStreamMsg, error) {
	lm, err := e.stream.GetLastMsgForSubject(ctx, e.subject(id))
	if errors.Is(err, jetstream.ErrMsgNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last message of stream %s: %w", id, err)
	}
	return lm, nil
}

// head returns the head of stream id and the stream sequence of its last message.
func (e *EventStore) head(ctx context.Context, id es.StreamID) (es.StreamHead, uint64, bool, error) {
	lm, err := e.lastMsg(ctx, id)
	if err != nil || lm == nil {
		return es.StreamHead{ID: id}, 0, false, err
	}
	_, last, err := versionRange(lm.Header)
	if err != nil {
		return es.StreamHead{ID: id}, 0, false, fmt.Errorf("stream %s seq %d: %w", id, lm.Sequence, err)
	}
	return es.StreamHead{ID: id, Type: lm.Header.Get(headerStreamType), Version: last}, lm.Sequence, true, nil
}

func (e *EventStore) subject(id es.StreamID) string {
	return e.subjectPrefix + "." + base64.RawURLEncoding.EncodeToString([]byte(id))
}

func (e *EventStore) streamIDOf(subject string) (es.StreamID, error) {
	token, ok := strings.CutPrefix(subject, e.subjectPrefix+".")
	if !ok || strings.Contains(token, ".") {
		return "", fmt.Errorf("subject %s is not a stream subject", subject)
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", err
	}
	return es.StreamID(raw), nil
}

func versionRange(h natsgo.Header) (first, last es.Version, err error) {
	f, err := strconv.ParseUint(h.Get(headerFirstVersion), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid %s header: %w", headerFirstVersion, err)
	}
	l, err := strconv.ParseUint(h.Get(headerVersion), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid %s header: %w", headerVersion, err)
	}
	return es.Version(f), es.Version(l), nil
}

// msgID identifies an append by its subject and first version, so the
// duplicate window of JetStream only ever drops a second append at the same version.
func msgID(subject string, first es.Version) string {
	return subject + "@" + strconv.FormatUint(first.Uint64(), 10)
}

func filterRange(dst, batch []es.Record, from, to es.Version) []es.Record {
	for _, r := range batch {
		if r.Version >= from && (to == 0 || r.Version <= to) {
			dst = append(dst, r)
		}
	}
	return dst
}

func decodeRecords(data []byte) (records []es.Record, err error) {
	err = json.Unmarshal(data, &records)
	return
}

func isWrongLastSequence(err error) bool {
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

var (
	_ es.Backend   = (*EventStore)(nil)
	_ es.BackendTx = (*EventStore)(nil)
)
