// Package eventsink exports exchange events to external consumers
package eventsink

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/uhyunpark/ledgerdex/pkg/app/dex"
)

// Writer is the subset of *kafka.Writer the sink uses
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DropCounter is told about every event the sink could not deliver
type DropCounter interface {
	EventDropped(sink string)
}

const sinkName = "kafka"

type KafkaConfig struct {
	Brokers      []string
	Topic        string
	QueueSize    int // events buffered between the exchange and the writer
	BatchSize    int // events per WriteMessages call
	WriteTimeout time.Duration
}

func DefaultKafkaConfig(brokers []string, topic string) KafkaConfig {
	return KafkaConfig{
		Brokers:      brokers,
		Topic:        topic,
		QueueSize:    1024,
		BatchSize:    100,
		WriteTimeout: 5 * time.Second,
	}
}

// NewKafkaWriter builds a writer for cfg. Records spread across partitions,
// so consumers reorder by the seq key.
func NewKafkaWriter(cfg KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.CRC32Balancer{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
	}
}

// KafkaSink forwards exchange events to Kafka off the exchange's lock.
// Handle only enqueues; a full queue drops the event and counts it.
type KafkaSink struct {
	cfg    KafkaConfig
	writer Writer
	queue  chan dex.Event
	drops  DropCounter
	log    *zap.SugaredLogger

	wg        sync.WaitGroup
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func NewKafkaSink(cfg KafkaConfig, writer Writer, drops DropCounter, log *zap.SugaredLogger) *KafkaSink {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &KafkaSink{
		cfg:    cfg,
		writer: writer,
		queue:  make(chan dex.Event, cfg.QueueSize),
		drops:  drops,
		log:    log,
	}
}

// Handle is an exchange subscriber. It never blocks.
func (s *KafkaSink) Handle(ev dex.Event) {
	select {
	case s.queue <- ev:
	default:
		s.dropped(1)
		s.log.Warnw("kafka_queue_full", "seq", ev.Seq, "type", ev.Type)
	}
}

// Start runs the writer loop until ctx ends or Close is called
func (s *KafkaSink) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
	s.log.Infow("kafka_sink_started", "brokers", s.cfg.Brokers, "topic", s.cfg.Topic)
}

func (s *KafkaSink) run(ctx context.Context) {
	defer s.wg.Done()
	batch := make([]dex.Event, 0, s.cfg.BatchSize)
	for {
		select {
		case <-ctx.Done():
			// flush what is already queued
			for {
				select {
				case ev := <-s.queue:
					batch = append(batch, ev)
					if len(batch) == s.cfg.BatchSize {
						s.write(batch)
						batch = batch[:0]
					}
				default:
					if len(batch) > 0 {
						s.write(batch)
					}
					return
				}
			}
		case ev := <-s.queue:
			batch = append(batch[:0], ev)
		fill:
			for len(batch) < s.cfg.BatchSize {
				select {
				case ev := <-s.queue:
					batch = append(batch, ev)
				default:
					break fill
				}
			}
			s.write(batch)
			batch = batch[:0]
		}
	}
}

func (s *KafkaSink) write(batch []dex.Event) {
	msgs := make([]kafka.Message, 0, len(batch))
	for _, ev := range batch {
		msg, err := Message(ev)
		if err != nil {
			s.dropped(1)
			s.log.Errorw("kafka_encode_failed", "seq", ev.Seq, "err", err)
			continue
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		s.dropped(len(msgs))
		s.log.Errorw("kafka_write_failed",
			"first_seq", batch[0].Seq,
			"count", len(msgs),
			"err", err)
		return
	}
	s.log.Debugw("kafka_batch_written", "first_seq", batch[0].Seq, "count", len(msgs))
}

func (s *KafkaSink) dropped(n int) {
	if s.drops == nil {
		return
	}
	for i := 0; i < n; i++ {
		s.drops.EventDropped(sinkName)
	}
}

// Close stops the loop, flushes queued events and closes the writer
func (s *KafkaSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		err = s.writer.Close()
		s.log.Infow("kafka_sink_stopped")
	})
	return err
}

// Message encodes ev as a Kafka record keyed by its sequence number
func Message(ev dex.Event) (kafka.Message, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatUint(ev.Seq, 10)),
		Value: value,
		Time:  time.Unix(ev.Timestamp, 0),
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(ev.Type)},
		},
	}, nil
}
