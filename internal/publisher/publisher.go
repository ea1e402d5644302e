package publisher

import (
	"context"
	"encoding/binary"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"
)

// Publisher publishes emitted primary heights to Redis Streams so downstream
// consumers (the game state machine) can tail the funnel.
type Publisher struct {
	pub         message.Publisher
	redisClient redis.UniversalClient
	topic       string
}

// New creates a new Publisher.
func New(redisClient redis.UniversalClient, topic string) (*Publisher, error) {
	logger := watermill.NewSlogLogger(nil)

	pub, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: redisClient,
		},
		logger,
	)
	if err != nil {
		return nil, err
	}

	return &Publisher{
		pub:         pub,
		redisClient: redisClient,
		topic:       topic,
	}, nil
}

// PublishBlock publishes an emitted primary height and the DA height it was
// correlated up to. The network name travels in message metadata.
func (p *Publisher) PublishBlock(ctx context.Context, network string, primaryHeight, daHeight uint64) error {
	start := time.Now()

	// Encode primary and DA heights as 16 bytes
	payload := make([]byte, 16)
	binary.BigEndian.PutUint64(payload[0:8], primaryHeight)
	binary.BigEndian.PutUint64(payload[8:16], daHeight)

	msgUUID := watermill.NewUUID()
	msg := message.NewMessage(msgUUID, payload)
	msg.Metadata.Set("network", network)

	err := p.pub.Publish(p.topic, msg)
	duration := time.Since(start)

	if err != nil {
		slog.Error("redis publish failed",
			"network", network,
			"primary_height", primaryHeight,
			"da_height", daHeight,
			"msg_uuid", msgUUID,
			"duration_ms", duration.Milliseconds(),
			"err", err,
		)
		return err
	}

	slog.Debug("redis publish ok",
		"network", network,
		"primary_height", primaryHeight,
		"da_height", daHeight,
		"msg_uuid", msgUUID,
		"duration_ms", duration.Milliseconds(),
	)
	return nil
}

// Close closes the publisher.
func (p *Publisher) Close() error {
	return p.pub.Close()
}
