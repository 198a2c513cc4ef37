package notify

import (
	"context"
	"encoding/json"
	"io"
	"sync"
)

// Sink receives dispatched items.
type Sink[T any] interface {
	Deliver(ctx context.Context, item T) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc[T any] func(ctx context.Context, item T) error

func (f SinkFunc[T]) Deliver(ctx context.Context, item T) error {
	return f(ctx, item)
}

// NoOpSink drops items.
type NoOpSink[T any] struct{}

func (NoOpSink[T]) Deliver(context.Context, T) error { return nil }

// ChannelSink writes items into a buffered channel.
type ChannelSink[T any] struct {
	items chan T
}

func NewChannelSink[T any](buffer int) *ChannelSink[T] {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink[T]{
		items: make(chan T, buffer),
	}
}

func (s *ChannelSink[T]) Deliver(ctx context.Context, item T) error {
	select {
	case s.items <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ChannelSink[T]) Items() <-chan T {
	return s.items
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink[T any] struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink[T any](w io.Writer) *JSONWriterSink[T] {
	return &JSONWriterSink[T]{
		writer: w,
	}
}

func (s *JSONWriterSink[T]) Deliver(_ context.Context, item T) error {
	if s == nil || s.writer == nil {
		return nil
	}
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data = append(data, '\n')
	_, err = s.writer.Write(data)
	return err
}
