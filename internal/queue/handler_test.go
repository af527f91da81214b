package queue

import (
	"errors"
	"testing"

	"github.com/OFFIS-RIT/chronicle/internal/util"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	key string
	msg amqp091.Publishing
}

type fakeChannel struct {
	published []published
	err       error
	declared  []string
}

func (f *fakeChannel) Publish(_, key string, _, _ bool, msg amqp091.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, published{key: key, msg: msg})
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, args amqp091.Table) (amqp091.Queue, error) {
	f.declared = append(f.declared, name)
	return amqp091.Queue{Name: name}, nil
}

type fakeAck struct {
	acked, nacked, requeued bool
}

func (a *fakeAck) Ack(uint64, bool) error {
	a.acked = true
	return nil
}

func (a *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked, a.requeued = true, requeue
	return nil
}

func (a *fakeAck) Reject(uint64, bool) error { return nil }

func delivery(ack *fakeAck, retries any) amqp091.Delivery {
	d := amqp091.Delivery{Acknowledger: ack, Body: []byte(`{"run_id":"r1"}`)}
	if retries != nil {
		d.Headers = amqp091.Table{retryHeader: retries}
	}
	return d
}

func TestSettle(t *testing.T) {
	tests := []struct {
		name        string
		retries     any
		err         error
		wantTarget  string
		wantRetries int32
	}{
		{name: "first failure", err: errors.New("s3 timeout"), wantTarget: ChronologyQueue + "_retry", wantRetries: 1},
		{name: "int32 header", retries: int32(4), err: errors.New("db down"), wantTarget: ChronologyQueue + "_retry", wantRetries: 5},
		{name: "int64 header", retries: int64(9), err: errors.New("db down"), wantTarget: ChronologyQueue + "_retry", wantRetries: 10},
		{name: "retries exhausted", retries: int32(10), err: errors.New("db down"), wantTarget: ChronologyQueue + "_dlq", wantRetries: 11},
		{name: "permanent failure", err: util.Permanent(errors.New("bad message")), wantTarget: ChronologyQueue + "_dlq", wantRetries: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &fakeChannel{}
			ack := &fakeAck{}
			Settle(ch, delivery(ack, tt.retries), ChronologyQueue, tt.err)

			require.Len(t, ch.published, 1)
			assert.Equal(t, tt.wantTarget, ch.published[0].key)
			assert.Equal(t, tt.wantRetries, ch.published[0].msg.Headers[retryHeader])
			assert.Equal(t, []byte(`{"run_id":"r1"}`), ch.published[0].msg.Body)
			assert.True(t, ack.acked)
		})
	}
}

func TestSettle_Success(t *testing.T) {
	ch := &fakeChannel{}
	ack := &fakeAck{}
	Settle(ch, delivery(ack, nil), ChronologyQueue, nil)
	assert.Empty(t, ch.published)
	assert.True(t, ack.acked)
}

func TestSettle_PublishFailureRequeues(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	ack := &fakeAck{}
	Settle(ch, delivery(ack, nil), ChronologyQueue, errors.New("boom"))
	assert.False(t, ack.acked)
	assert.True(t, ack.nacked)
	assert.True(t, ack.requeued)
}

func TestSetupQueues(t *testing.T) {
	ch := &fakeChannel{}
	require.NoError(t, SetupQueues(ch, []string{ChronologyQueue}))
	assert.Equal(t, []string{ChronologyQueue, ChronologyQueue + "_dlq", ChronologyQueue + "_retry"}, ch.declared)
}

func TestPublishFIFO(t *testing.T) {
	ch := &fakeChannel{}
	body, err := EncodeRunMessage(RunMessage{RunID: "r1", MatterID: "m1", InputKey: "inputs/m1.json"})
	require.NoError(t, err)
	require.NoError(t, PublishFIFO(ch, ChronologyQueue, body))

	require.Len(t, ch.published, 1)
	assert.Equal(t, amqp091.Persistent, ch.published[0].msg.DeliveryMode)

	msg, err := DecodeRunMessage(ch.published[0].msg.Body)
	require.NoError(t, err)
	assert.Equal(t, "inputs/m1.json", msg.InputKey)
	assert.Nil(t, msg.WindowDays)
}

func TestEncodeRunMessage_Invalid(t *testing.T) {
	_, err := EncodeRunMessage(RunMessage{RunID: "r1"})
	assert.Error(t, err)
}
