package auditsink

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaConfig configures a KafkaSink.
type KafkaConfig struct {
	Brokers []string
	Topic   string

	// BatchSize defaults to 100.
	BatchSize int
	// BatchTimeout defaults to 1s.
	BatchTimeout time.Duration
	// WriteTimeout defaults to 10s.
	WriteTimeout time.Duration
	// RequiredAcks: -1 all replicas, 1 leader only. Zero means -1.
	RequiredAcks int
	// Compression is one of none, gzip, snappy, lz4, zstd. Default snappy.
	Compression string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes audit events as JSON, keyed by identity so one
// identity's events stay ordered within a partition.
type KafkaSink struct {
	writer messageWriter
	logger *zap.Logger

	mu     sync.Mutex
	closed bool

	written atomic.Int64
	failed  atomic.Int64
}

var _ goGate.AuditSink = (*KafkaSink)(nil)

func NewKafkaSink(cfg KafkaConfig, logger *zap.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one Kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("Kafka topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	requiredAcks := kafka.RequireAll
	if cfg.RequiredAcks == 1 {
		requiredAcks = kafka.RequireOne
	}

	compression := kafka.Snappy
	switch cfg.Compression {
	case "none":
		compression = 0
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "snappy", "":
	default:
		logger.Warn("unknown compression codec, defaulting to snappy", zap.String("codec", cfg.Compression))
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              batchSize,
		BatchTimeout:           batchTimeout,
		WriteTimeout:           writeTimeout,
		RequiredAcks:           requiredAcks,
		Compression:            compression,
		AllowAutoTopicCreation: false,
	}

	logger.Info("kafka audit sink created",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic))

	return newKafkaSink(writer, logger), nil
}

func newKafkaSink(w messageWriter, logger *zap.Logger) *KafkaSink {
	return &KafkaSink{writer: w, logger: logger.Named("kafka-audit")}
}

// Emit writes event synchronously. Failures are logged and counted; the
// gate never sees them.
func (s *KafkaSink) Emit(ctx context.Context, event goGate.AuditEvent) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		s.failed.Add(1)
		return
	}

	msg, err := messageFor(event)
	if err != nil {
		s.failed.Add(1)
		s.logger.Error("failed to marshal audit event", zap.Error(err), zap.String("event_id", event.ID))
		return
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.failed.Add(1)
		s.logger.Warn("failed to write audit event to Kafka",
			zap.Error(err),
			zap.String("event_id", event.ID),
			zap.String("event_type", event.EventType))
		return
	}
	s.written.Add(1)
}

// Written and Failed report delivery counts.
func (s *KafkaSink) Written() int64 { return s.written.Load() }
func (s *KafkaSink) Failed() int64  { return s.failed.Load() }

func (s *KafkaSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.writer.Close()
}

func messageFor(event goGate.AuditEvent) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}

	key := event.Client
	if event.IdentityID != 0 {
		key = "identity:" + strconv.FormatInt(event.IdentityID, 10)
	}

	headers := []kafka.Header{
		{Key: "event-type", Value: []byte(event.EventType)},
		{Key: "timestamp", Value: []byte(event.Timestamp.Format(time.RFC3339))},
	}
	if event.RequestID != "" {
		headers = append(headers, kafka.Header{Key: "request-id", Value: []byte(event.RequestID)})
	}

	return kafka.Message{
		Key:     []byte(key),
		Value:   value,
		Headers: headers,
	}, nil
}
