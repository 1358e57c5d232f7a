// Package ingest forwards received heartbeats to Kafka so downstream
// consumers see the same stream the simulator does.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/driver-dispatch/internal/models"
)

type HeartbeatPublisher struct {
	writer *kafka.Writer
}

func NewHeartbeatPublisher(brokers []string, topic string) *HeartbeatPublisher {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &HeartbeatPublisher{writer: w}
}

func (p *HeartbeatPublisher) Publish(hb models.Heartbeat) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, err := json.Marshal(hb)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(hb.DriverID), Value: b})
}

func (p *HeartbeatPublisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
