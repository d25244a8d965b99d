package queue

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"rfidattend/internal/scan"
)

// Message types published by reader gateways.
const (
	TypeScan         = "scan"
	TypeDeviceStatus = "device_status"
)

// Message represents work to be processed.
type Message struct {
	Type string
	Body []byte
}

// DeviceStatus is the body of a TypeDeviceStatus message.
type DeviceStatus struct {
	DeviceID string `json:"device_id"`
	Status   string `json:"status"`
}

// NewScanMessage encodes a badge read.
func NewScanMessage(s scan.Scan) (Message, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: TypeScan, Body: body}, nil
}

// NewDeviceStatusMessage encodes a reader status report.
func NewDeviceStatusMessage(st DeviceStatus) (Message, error) {
	body, err := json.Marshal(st)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: TypeDeviceStatus, Body: body}, nil
}

// DecodeScan parses the body of a TypeScan message.
func DecodeScan(msg Message) (scan.Scan, error) {
	var s scan.Scan
	err := json.Unmarshal(msg.Body, &s)
	return s, err
}

// DecodeDeviceStatus parses the body of a TypeDeviceStatus message.
func DecodeDeviceStatus(msg Message) (DeviceStatus, error) {
	var st DeviceStatus
	err := json.Unmarshal(msg.Body, &st)
	return st, err
}

// Queue is the abstraction over different backends.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context) (<-chan Message, error)
}

// InMemory is a minimal channel-backed queue for dev/testing.
type InMemory struct {
	ch chan Message
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Message, size)}
}

// Publish enqueues a message.
func (q *InMemory) Publish(ctx context.Context, msg Message) error {
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume returns a channel for workers. It closes when ctx is done.
func (q *InMemory) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case msg := <-q.ch:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisQueue implements a simple Redis list-backed queue.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue builds a queue using LPUSH/BRPOP semantics.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "attendance:scans"
	}
	return &RedisQueue{client: client, key: key}
}

// Publish enqueues a message.
func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	return q.client.LPush(ctx, q.key, serialize(msg)).Err()
}

// Consume streams messages using BRPOP.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if err != redis.Nil {
					// back off on connection errors instead of spinning
					select {
					case <-time.After(time.Second):
					case <-ctx.Done():
						return
					}
				}
				continue
			}
			if len(res) == 2 {
				select {
				case out <- deserialize(res[1]):
				case <-ctx.Done():
					// popped but never handed out: put it back at the consuming end
					_ = q.client.RPush(context.WithoutCancel(ctx), q.key, res[1]).Err()
					return
				}
			}
		}
	}()
	return out, nil
}

// serialize stores messages as Type|Body.
func serialize(msg Message) string {
	return msg.Type + "|" + string(msg.Body)
}

func deserialize(s string) Message {
	typ, body, ok := strings.Cut(s, "|")
	if !ok {
		return Message{Body: []byte(s)}
	}
	return Message{Type: typ, Body: []byte(body)}
}
