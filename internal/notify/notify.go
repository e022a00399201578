// Package notify fans booking lifecycle events out to interested parties.
// Delivery is best effort: a failed notification never fails the booking
// operation that produced it.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"
)

type Kind string

const (
	KindCreated         Kind = "created"
	KindConfirmed       Kind = "confirmed"
	KindPaid            Kind = "paid"
	KindCancelled       Kind = "cancelled"
	KindRefundRequested Kind = "refund_requested"
	KindRefunded        Kind = "refunded"
)

// Event is the payload published for every booking change.
type Event struct {
	BookingID  int64     `json:"booking_id"`
	Kind       Kind      `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Notifier interface {
	Notify(ctx context.Context, bookingID int64, kind Kind) error
}

// LogNotifier only writes the event to the log.
type LogNotifier struct {
	Log *zap.Logger
}

func (n LogNotifier) Notify(_ context.Context, bookingID int64, kind Kind) error {
	if n.Log != nil {
		n.Log.Info("booking notification", zap.Int64("booking_id", bookingID), zap.String("kind", string(kind)))
	}
	return nil
}

// SNSAPI is the subset of the SNS client used here.
type SNSAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSNotifier publishes events to a topic with an event_kind attribute so
// subscribers can filter.
type SNSNotifier struct {
	Client   SNSAPI
	TopicARN string
	Now      func() time.Time
}

func NewSNSNotifier(client SNSAPI, topicARN string) *SNSNotifier {
	return &SNSNotifier{Client: client, TopicARN: topicARN, Now: time.Now}
}

func (n *SNSNotifier) Notify(ctx context.Context, bookingID int64, kind Kind) error {
	if n.TopicARN == "" {
		return errors.New("sns notifier: empty topic arn")
	}
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	body, err := json.Marshal(Event{BookingID: bookingID, Kind: kind, OccurredAt: now().UTC()})
	if err != nil {
		return err
	}
	_, err = n.Client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.TopicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"event_kind": {DataType: aws.String("String"), StringValue: aws.String(string(kind))},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish %s for booking %d: %w", kind, bookingID, err)
	}
	return nil
}

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, bookingID int64, kind Kind) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, bookingID, kind); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
