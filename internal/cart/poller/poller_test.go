package poller

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KimDog-Studios/kimdog-modding-main/internal/domain"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReader struct {
	mu       sync.Mutex
	messages []kafkaGo.Message
	err      error
}

func (r *mockReader) ReadMessage(ctx context.Context) (kafkaGo.Message, error) {
	r.mu.Lock()
	if r.err != nil {
		err := r.err
		r.mu.Unlock()
		return kafkaGo.Message{}, err
	}
	if len(r.messages) > 0 {
		m := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()

	<-ctx.Done()
	return kafkaGo.Message{}, ctx.Err()
}

func (r *mockReader) Close() error { return nil }

type removal struct {
	userID     string
	productIDs []string
}

type mockRemover struct {
	mu       sync.Mutex
	removals []removal
	err      error
}

func (m *mockRemover) RemoveItems(_ context.Context, userID string, productIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removals = append(m.removals, removal{userID, productIDs})
	return m.err
}

func (m *mockRemover) calls() []removal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]removal(nil), m.removals...)
}

func purchaseMessage(t *testing.T, userID, productID string) kafkaGo.Message {
	payload, err := json.Marshal(domain.PurchaseGranted{UserID: userID, ProductID: productID})
	require.NoError(t, err)
	return kafkaGo.Message{
		Key:     []byte(userID),
		Value:   payload,
		Headers: []kafkaGo.Header{{Key: "event_type", Value: []byte(domain.EventPurchaseGranted)}},
	}
}

func TestConsumeOne_RemovesPurchasedProduct(t *testing.T) {
	reader := &mockReader{messages: []kafkaGo.Message{purchaseMessage(t, "u1", "p1")}}
	remover := &mockRemover{}
	p := NewPoller(reader, remover)

	p.consumeOne(context.Background())

	require.Len(t, remover.calls(), 1)
	assert.Equal(t, "u1", remover.calls()[0].userID)
	assert.Equal(t, []string{"p1"}, remover.calls()[0].productIDs)
}

func TestConsumeOne_SkipsMalformedAndForeignEvents(t *testing.T) {
	foreign := purchaseMessage(t, "u1", "p1")
	foreign.Headers = []kafkaGo.Header{{Key: "event_type", Value: []byte("something.else")}}

	reader := &mockReader{messages: []kafkaGo.Message{
		{Value: []byte("{not json")},
		{Value: []byte(`{"user_id":"u1"}`)},
		foreign,
	}}
	remover := &mockRemover{}
	p := NewPoller(reader, remover)

	for i := 0; i < 3; i++ {
		p.consumeOne(context.Background())
	}

	assert.Empty(t, remover.calls())
}

func TestConsumeOne_RemoverErrorDoesNotStopPolling(t *testing.T) {
	reader := &mockReader{messages: []kafkaGo.Message{
		purchaseMessage(t, "u1", "p1"),
		purchaseMessage(t, "u2", "p2"),
	}}
	remover := &mockRemover{err: errors.New("mongo down")}
	p := NewPoller(reader, remover)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return len(remover.calls()) == 2 }, time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
