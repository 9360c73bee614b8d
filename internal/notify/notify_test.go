package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
)

func TestMailerRendersAndSends(t *testing.T) {
	var (
		gotAddr string
		gotFrom string
		gotTo   []string
		gotMsg  string
	)
	m, err := NewMailer(MailConfig{Host: "smtp.example.org", Port: 2525, From: "events@example.org", BaseURL: "https://events.example.org/"},
		WithSendFunc(func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
			gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, string(msg)
			return nil
		}))
	require.NoError(t, err)

	err = m.Dispatch(context.Background(), Message{
		Kind: KindSupervisorReview,
		To:   "boss@example.org",
		Name: "Pat Boss",
		Data: map[string]string{
			"registration_id":  "REG-ABC-12345678",
			"applicant_name":   "Sam Staff",
			"department":       "Finance",
			"conference_title": "Annual Summit",
			"justification":    "Budget planning track",
		},
	})
	require.NoError(t, err)
	require.Equal(t, "smtp.example.org:2525", gotAddr)
	require.Equal(t, "events@example.org", gotFrom)
	require.Equal(t, []string{"boss@example.org"}, gotTo)
	require.Contains(t, gotMsg, "Subject: Approval requested: Sam Staff for Annual Summit\r\n")
	require.Contains(t, gotMsg, "Hello Pat Boss,")
	require.Contains(t, gotMsg, "https://events.example.org/registrations/REG-ABC-12345678")
}

func TestMailerApprovedOmitsEmptyComments(t *testing.T) {
	m, err := NewMailer(MailConfig{Host: "localhost", From: "events@example.org"})
	require.NoError(t, err)

	_, body, err := m.Render(Message{Kind: KindApproved, To: "a@example.org", Data: map[string]string{"conference_title": "Summit"}})
	require.NoError(t, err)
	require.NotContains(t, body, "Comments:")
	require.Contains(t, body, "Hello a@example.org,")

	_, body, err = m.Render(Message{Kind: KindApproved, To: "a@example.org", Data: map[string]string{"comments": "approved for budget reasons"}})
	require.NoError(t, err)
	require.Contains(t, body, "Comments: approved for budget reasons")
}

func TestMailerErrors(t *testing.T) {
	boom := errors.New("connection refused")
	m, err := NewMailer(MailConfig{Host: "localhost", From: "events@example.org"},
		WithSendFunc(func(string, smtp.Auth, string, []string, []byte) error { return boom }))
	require.NoError(t, err)

	require.ErrorIs(t, m.Dispatch(context.Background(), Message{Kind: KindApproved, To: "a@example.org"}), boom)
	require.ErrorIs(t, m.Dispatch(context.Background(), Message{Kind: KindApproved}), ErrNoRecipient)
	require.Error(t, m.Dispatch(context.Background(), Message{Kind: "unknown", To: "a@example.org"}))

	_, err = NewMailer(MailConfig{From: "x@example.org"})
	require.Error(t, err)
}

type recordingChannel struct {
	mu        sync.Mutex
	published []amqp.Publishing
	keys      []string
	err       error
}

func (r *recordingChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.published = append(r.published, msg)
	r.keys = append(r.keys, key)
	return nil
}

func TestAMQPPublisherDispatch(t *testing.T) {
	ch := &recordingChannel{}
	p := newPublisher(ch, "", "confhub.notifications")

	err := p.Dispatch(context.Background(), Message{Kind: KindConfirmation, To: "a@example.org", Data: map[string]string{"registration_id": "REG-1"}})
	require.NoError(t, err)
	require.Len(t, ch.published, 1)

	pub := ch.published[0]
	require.Equal(t, "confhub.notifications", ch.keys[0])
	require.Equal(t, amqp.Persistent, pub.DeliveryMode)
	require.Equal(t, "application/json", pub.ContentType)
	require.Equal(t, string(KindConfirmation), pub.Type)
	require.NotEmpty(t, pub.MessageId)

	var decoded Message
	require.NoError(t, json.Unmarshal(pub.Body, &decoded))
	require.Equal(t, pub.MessageId, decoded.ID)
	require.Equal(t, "REG-1", decoded.Data["registration_id"])

	ch.err = errors.New("channel closed")
	require.Error(t, p.Dispatch(context.Background(), Message{Kind: KindConfirmation, To: "a@example.org"}))
}

type ackRecord struct {
	acked    bool
	nacked   bool
	requeued bool
}

type fakeAcknowledger struct {
	mu      sync.Mutex
	records map[uint64]*ackRecord
}

func newFakeAcknowledger() *fakeAcknowledger {
	return &fakeAcknowledger{records: map[uint64]*ackRecord{}}
}

func (f *fakeAcknowledger) rec(tag uint64) *ackRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[tag]
	if !ok {
		r = &ackRecord{}
		f.records[tag] = r
	}
	return r
}

func (f *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	f.rec(tag).acked = true
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	r := f.rec(tag)
	r.nacked, r.requeued = true, requeue
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func TestWorkerAcksAndRequeues(t *testing.T) {
	ack := newFakeAcknowledger()
	body := func(to string) []byte {
		b, _ := json.Marshal(Message{ID: "n-" + to, Kind: KindApproved, To: to})
		return b
	}
	deliveries := make(chan amqp.Delivery, 4)
	deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: body("ok@example.org")}
	deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: body("fail@example.org")}
	deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 3, Body: body("fail@example.org"), Redelivered: true}
	deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 4, Body: []byte("{not json")}
	close(deliveries)

	var sent []string
	sender := DispatcherFunc(func(_ context.Context, msg Message) error {
		if strings.HasPrefix(msg.To, "fail") {
			return errors.New("smtp down")
		}
		sent = append(sent, msg.To)
		return nil
	})
	w := NewWorker(sender, func() (<-chan amqp.Delivery, error) { return deliveries, nil })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := w.Run(ctx)
	require.Error(t, err, "closed channel must stop the worker")

	require.Equal(t, []string{"ok@example.org"}, sent)
	require.True(t, ack.rec(1).acked)
	require.True(t, ack.rec(2).nacked)
	require.True(t, ack.rec(2).requeued, "first failure is requeued")
	require.True(t, ack.rec(3).nacked)
	require.False(t, ack.rec(3).requeued, "redelivered failure is dropped")
	require.True(t, ack.rec(4).nacked)
	require.False(t, ack.rec(4).requeued)
}

func TestLogDispatcher(t *testing.T) {
	require.NoError(t, LogDispatcher{}.Dispatch(context.Background(), Message{Kind: KindRejected, To: "x@example.org"}))
	require.ErrorIs(t, LogDispatcher{}.Dispatch(context.Background(), Message{Kind: KindRejected}), ErrNoRecipient)
}
