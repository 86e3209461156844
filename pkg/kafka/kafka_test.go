package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []int64
	closed    bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return kafka.Message{}, io.EOF
	}
	if len(f.pending) > 0 {
		msg := f.pending[0]
		f.pending = f.pending[1:]
		f.mu.Unlock()
		return msg, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestConsumerCommitsOnlyHandledMessages(t *testing.T) {
	r := &fakeReader{pending: []kafka.Message{
		{Offset: 1, Value: []byte(`{"values":["alpha"]}`)},
		{Offset: 2, Value: []byte(`not json`)},
		{Offset: 3, Value: []byte(`{"values":["beta"]}`)},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	var got []string
	handled := make(chan struct{}, 3)
	c := newConsumer([]messageReader{r}, "vocabulary", true, func(_ context.Context, _, value []byte) error {
		defer func() { handled <- struct{}{} }()
		ev, err := DecodeJSON[struct {
			Values []string `json:"values"`
		}](value)
		if err != nil {
			return err
		}
		got = append(got, ev.Values...)
		return nil
	})

	done := make(chan error)
	go func() { done <- c.Start(ctx) }()
	for range 3 {
		<-handled
	}
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"alpha", "beta"}, got)
	assert.Equal(t, []int64{1, 3}, r.committed)
	assert.True(t, r.closed)
}

func TestReplayConsumerReadsAllPartitionsWithoutCommitting(t *testing.T) {
	p0 := &fakeReader{pending: []kafka.Message{
		{Partition: 0, Offset: 0, Value: []byte("calculus")},
		{Partition: 0, Offset: 1, Value: []byte("physics")},
	}}
	p1 := &fakeReader{pending: []kafka.Message{
		{Partition: 1, Offset: 0, Value: []byte("chemistry")},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	var (
		mu  sync.Mutex
		got []string
	)
	handled := make(chan struct{}, 3)
	c := newConsumer([]messageReader{p0, p1}, "vocabulary", false, func(_ context.Context, _, value []byte) error {
		mu.Lock()
		got = append(got, string(value))
		mu.Unlock()
		handled <- struct{}{}
		return nil
	})

	done := make(chan error)
	go func() { done <- c.Start(ctx) }()
	for range 3 {
		<-handled
	}
	cancel()
	require.NoError(t, <-done)

	assert.ElementsMatch(t, []string{"calculus", "physics", "chemistry"}, got)
	assert.Empty(t, p0.committed)
	assert.Empty(t, p1.committed)
	assert.True(t, p0.closed)
	assert.True(t, p1.closed)
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestProducerEncodesJSON(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, "match-analytics")
	require.NoError(t, p.PublishBatch(context.Background(), []Event{
		{Key: "a", Value: map[string]int{"n": 1}},
		{Key: "b", Value: []string{"x"}},
	}))
	require.NoError(t, p.PublishBatch(context.Background(), nil))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "a", string(w.msgs[0].Key))
	assert.JSONEq(t, `{"n":1}`, string(w.msgs[0].Value))
	assert.JSONEq(t, `["x"]`, string(w.msgs[1].Value))
}

func TestProducerRejectsUnencodableEvent(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, "t")
	err := p.PublishBatch(context.Background(), []Event{{Key: "ok", Value: 1}, {Key: "bad", Value: make(chan int)}})
	require.Error(t, err)
	assert.Empty(t, w.msgs)

	w.err = errors.New("broker down")
	assert.ErrorContains(t, p.Publish(context.Background(), Event{Key: "k", Value: 1}), "broker down")
}
