package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"collabsync/pkg/protocol"
)

// RedisBackplane связывает несколько экземпляров relay через Redis pub/sub:
// один канал на комнату, в конверте id экземпляра-отправителя.
type RedisBackplane struct {
	client redis.UniversalClient
	prefix string
	origin string
	logger *slog.Logger
}

type envelope struct {
	Origin  string           `json:"origin"`
	Message protocol.Message `json:"msg"`
}

func NewRedisBackplane(client redis.UniversalClient, prefix string, logger *slog.Logger) *RedisBackplane {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBackplane{
		client: client,
		prefix: prefix,
		origin: uuid.NewString(),
		logger: logger,
	}
}

func (b *RedisBackplane) Origin() string {
	return b.origin
}

func (b *RedisBackplane) channel(room string) string {
	return b.prefix + room
}

func (b *RedisBackplane) Publish(ctx context.Context, msg protocol.Message) error {
	data, err := json.Marshal(envelope{Origin: b.origin, Message: msg})
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel(msg.Room), data).Err(); err != nil {
		return &TransportError{Op: "publish", Room: msg.Room, Err: err}
	}
	return nil
}

// Subscribe подписывается на все комнаты и передаёт в deliver сообщения других
// экземпляров. Возвращается после подтверждения подписки; доставка идёт до отмены ctx.
func (b *RedisBackplane) Subscribe(ctx context.Context, deliver func(protocol.Message)) error {
	ps := b.client.PSubscribe(ctx, b.prefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return &TransportError{Op: "subscribe", Room: "*", Err: err}
	}

	ch := ps.Channel()
	go func() {
		defer ps.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var env envelope
				if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
					b.logger.Warn("dropping malformed backplane message", "channel", m.Channel, "error", err)
					continue
				}
				if env.Origin == b.origin {
					continue
				}
				if env.Message.Room == "" {
					env.Message.Room = strings.TrimPrefix(m.Channel, b.prefix)
				}
				deliver(env.Message)
			}
		}
	}()
	return nil
}
