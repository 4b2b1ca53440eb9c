package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReceiver struct {
	mu        sync.Mutex
	msgs      []*azservicebus.ReceivedMessage
	completed []string
	abandoned []string
	dead      map[string]string
	renewals  int
	closed    bool
}

func (f *fakeReceiver) ReceiveMessages(ctx context.Context, _ int, _ *azservicebus.ReceiveMessagesOptions) ([]*azservicebus.ReceivedMessage, error) {
	f.mu.Lock()
	if len(f.msgs) > 0 {
		msg := f.msgs[0]
		f.msgs = f.msgs[1:]
		f.mu.Unlock()
		return []*azservicebus.ReceivedMessage{msg}, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeReceiver) CompleteMessage(_ context.Context, m *azservicebus.ReceivedMessage, _ *azservicebus.CompleteMessageOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, m.MessageID)
	return nil
}

func (f *fakeReceiver) AbandonMessage(_ context.Context, m *azservicebus.ReceivedMessage, _ *azservicebus.AbandonMessageOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abandoned = append(f.abandoned, m.MessageID)
	return nil
}

func (f *fakeReceiver) DeadLetterMessage(_ context.Context, m *azservicebus.ReceivedMessage, o *azservicebus.DeadLetterOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dead == nil {
		f.dead = map[string]string{}
	}
	f.dead[m.MessageID] = *o.Reason
	return nil
}

func (f *fakeReceiver) RenewMessageLock(_ context.Context, _ *azservicebus.ReceivedMessage, _ *azservicebus.RenewMessageLockOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renewals++
	return nil
}

func (f *fakeReceiver) Close(context.Context) error {
	f.closed = true
	return nil
}

func (f *fakeReceiver) renewCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.renewals
}

type fakeSender struct {
	sent   []*azservicebus.Message
	closed bool
}

func (f *fakeSender) SendMessage(_ context.Context, m *azservicebus.Message, _ *azservicebus.SendMessageOptions) error {
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeSender) Close(context.Context) error {
	f.closed = true
	return nil
}

func received(id, body string, count uint32) *azservicebus.ReceivedMessage {
	return &azservicebus.ReceivedMessage{MessageID: id, Body: []byte(body), DeliveryCount: count}
}

func TestServiceBus_ReceiveAndComplete(t *testing.T) {
	r := &fakeReceiver{msgs: []*azservicebus.ReceivedMessage{received("m1", `{"id":"t1"}`, 1)}}
	q := newServiceBus(r, &fakeSender{}, ServiceBusOptions{})

	d, err := q.Receive(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "m1", d.ID)
	assert.Equal(t, `{"id":"t1"}`, string(d.Body))
	assert.Equal(t, 1, d.Attempts)

	require.NoError(t, q.Complete(context.Background(), d))
	assert.Equal(t, []string{"m1"}, r.completed)
}

func TestServiceBus_ReceiveTimesOutEmpty(t *testing.T) {
	q := newServiceBus(&fakeReceiver{}, &fakeSender{}, ServiceBusOptions{})

	d, err := q.Receive(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestServiceBus_ReceiveCancelled(t *testing.T) {
	q := newServiceBus(&fakeReceiver{}, &fakeSender{}, ServiceBusOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d, err := q.Receive(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, d)
}

func TestServiceBus_RenewsLockUntilSettled(t *testing.T) {
	r := &fakeReceiver{msgs: []*azservicebus.ReceivedMessage{received("m1", `{}`, 1)}}
	q := newServiceBus(r, &fakeSender{}, ServiceBusOptions{RenewEvery: 5 * time.Millisecond})

	d, err := q.Receive(context.Background(), time.Second)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return r.renewCount() >= 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, q.Abandon(context.Background(), d))
	after := r.renewCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, r.renewCount())
	assert.Equal(t, []string{"m1"}, r.abandoned)
}

func TestServiceBus_DeadLetter(t *testing.T) {
	r := &fakeReceiver{msgs: []*azservicebus.ReceivedMessage{received("bad", `not json`, 1)}}
	q := newServiceBus(r, &fakeSender{}, ServiceBusOptions{})

	d, err := q.Receive(context.Background(), time.Second)
	require.NoError(t, err)
	require.NoError(t, q.DeadLetter(context.Background(), d, "undecodable task"))
	assert.Equal(t, "undecodable task", r.dead["bad"])
}

func TestServiceBus_ForeignDelivery(t *testing.T) {
	q := newServiceBus(&fakeReceiver{}, &fakeSender{}, ServiceBusOptions{})

	err := q.Complete(context.Background(), &Delivery{ID: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not received from servicebus")
}

func TestServiceBus_Send(t *testing.T) {
	s := &fakeSender{}
	q := newServiceBus(&fakeReceiver{}, s, ServiceBusOptions{})

	require.NoError(t, q.Send(context.Background(), []byte(`{"task_id":"t1"}`)))
	require.Len(t, s.sent, 1)
	assert.Equal(t, `{"task_id":"t1"}`, string(s.sent[0].Body))
	assert.Equal(t, "application/json", *s.sent[0].ContentType)
}

func TestServiceBus_Close(t *testing.T) {
	r, s := &fakeReceiver{}, &fakeSender{}
	q := newServiceBus(r, s, ServiceBusOptions{})

	require.NoError(t, q.Close(context.Background()))
	assert.True(t, r.closed)
	assert.True(t, s.closed)
}

func TestNewServiceBus_BadConnectionString(t *testing.T) {
	_, err := NewServiceBus("not-a-connection-string", "tasks", "updates", ServiceBusOptions{})
	require.Error(t, err)
}
