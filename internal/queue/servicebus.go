package queue

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// sbReceiver is the part of *azservicebus.Receiver the queue uses.
type sbReceiver interface {
	ReceiveMessages(ctx context.Context, maxMessages int, options *azservicebus.ReceiveMessagesOptions) ([]*azservicebus.ReceivedMessage, error)
	CompleteMessage(ctx context.Context, message *azservicebus.ReceivedMessage, options *azservicebus.CompleteMessageOptions) error
	AbandonMessage(ctx context.Context, message *azservicebus.ReceivedMessage, options *azservicebus.AbandonMessageOptions) error
	DeadLetterMessage(ctx context.Context, message *azservicebus.ReceivedMessage, options *azservicebus.DeadLetterOptions) error
	RenewMessageLock(ctx context.Context, message *azservicebus.ReceivedMessage, options *azservicebus.RenewMessageLockOptions) error
	Close(ctx context.Context) error
}

// sbSender is the part of *azservicebus.Sender the queue uses.
type sbSender interface {
	SendMessage(ctx context.Context, message *azservicebus.Message, options *azservicebus.SendMessageOptions) error
	Close(ctx context.Context) error
}

// ServiceBusOptions tunes the Service Bus driver.
type ServiceBusOptions struct {
	// RenewEvery is the peek-lock renewal interval while a delivery is held.
	// Default: 30s.
	RenewEvery time.Duration
}

// ServiceBus receives tasks from one Service Bus queue and sends updates to
// another. Messages are peek-locked and the lock is renewed until the
// delivery is settled.
type ServiceBus struct {
	client   *azservicebus.Client
	receiver sbReceiver
	sender   sbSender
	opts     ServiceBusOptions
}

// NewServiceBus connects with a namespace connection string.
func NewServiceBus(connStr, tasksQueue, updatesQueue string, opts ServiceBusOptions) (*ServiceBus, error) {
	client, err := azservicebus.NewClientFromConnectionString(connStr, nil)
	if err != nil {
		return nil, eris.Wrap(err, "queue: servicebus client")
	}
	receiver, err := client.NewReceiverForQueue(tasksQueue, nil)
	if err != nil {
		_ = client.Close(context.Background())
		return nil, eris.Wrapf(err, "queue: servicebus receiver %s", tasksQueue)
	}
	sender, err := client.NewSender(updatesQueue, nil)
	if err != nil {
		_ = receiver.Close(context.Background())
		_ = client.Close(context.Background())
		return nil, eris.Wrapf(err, "queue: servicebus sender %s", updatesQueue)
	}
	sb := newServiceBus(receiver, sender, opts)
	sb.client = client
	return sb, nil
}

func newServiceBus(r sbReceiver, s sbSender, opts ServiceBusOptions) *ServiceBus {
	if opts.RenewEvery <= 0 {
		opts.RenewEvery = 30 * time.Second
	}
	return &ServiceBus{receiver: r, sender: s, opts: opts}
}

func (q *ServiceBus) Send(ctx context.Context, body []byte) error {
	err := q.sender.SendMessage(ctx, &azservicebus.Message{
		Body:        body,
		ContentType: to.Ptr("application/json"),
	}, nil)
	return eris.Wrap(err, "queue: servicebus send")
}

func (q *ServiceBus) Receive(ctx context.Context, maxWait time.Duration) (*Delivery, error) {
	waitCtx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	msgs, err := q.receiver.ReceiveMessages(waitCtx, 1, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "queue: servicebus receive")
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	msg := msgs[0]
	d := &Delivery{
		ID:       msg.MessageID,
		Body:     msg.Body,
		Attempts: int(msg.DeliveryCount),
		handle:   msg,
	}
	d.release = q.keepLocked(context.WithoutCancel(ctx), msg)
	return d, nil
}

// keepLocked renews msg's lock until the returned func is called.
func (q *ServiceBus) keepLocked(ctx context.Context, msg *azservicebus.ReceivedMessage) func() {
	ctx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(q.opts.RenewEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := q.receiver.RenewMessageLock(ctx, msg, nil); err != nil && ctx.Err() == nil {
					zap.L().Warn("queue: servicebus lock renewal failed",
						zap.String("message_id", msg.MessageID),
						zap.Error(err),
					)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-stopped
	}
}

func (q *ServiceBus) message(d *Delivery) (*azservicebus.ReceivedMessage, error) {
	msg, ok := d.handle.(*azservicebus.ReceivedMessage)
	if !ok {
		return nil, eris.Errorf("queue: delivery %s was not received from servicebus", d.ID)
	}
	d.done()
	return msg, nil
}

func (q *ServiceBus) Complete(ctx context.Context, d *Delivery) error {
	msg, err := q.message(d)
	if err != nil {
		return err
	}
	return eris.Wrapf(q.receiver.CompleteMessage(ctx, msg, nil), "queue: servicebus complete %s", d.ID)
}

func (q *ServiceBus) Abandon(ctx context.Context, d *Delivery) error {
	msg, err := q.message(d)
	if err != nil {
		return err
	}
	return eris.Wrapf(q.receiver.AbandonMessage(ctx, msg, nil), "queue: servicebus abandon %s", d.ID)
}

func (q *ServiceBus) DeadLetter(ctx context.Context, d *Delivery, reason string) error {
	msg, err := q.message(d)
	if err != nil {
		return err
	}
	err = q.receiver.DeadLetterMessage(ctx, msg, &azservicebus.DeadLetterOptions{
		Reason: to.Ptr(reason),
	})
	return eris.Wrapf(err, "queue: servicebus dead-letter %s", d.ID)
}

// Close closes the receiver, the sender and the client.
func (q *ServiceBus) Close(ctx context.Context) error {
	var errs []error
	errs = append(errs, q.receiver.Close(ctx), q.sender.Close(ctx))
	if q.client != nil {
		errs = append(errs, q.client.Close(ctx))
	}
	return eris.Wrap(errors.Join(errs...), "queue: servicebus close")
}
