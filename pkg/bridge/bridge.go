// Package bridge routes events between WhatsApp customers and Amazon Connect
// chat contacts.
//
// Both routers take the SNS batches Lambda delivers and process their records
// one at a time, in order. A failing record does not stop the batch; every
// failure is logged and the joined errors are returned to the caller.
//
// Known limitations: directory reads and writes are not transactional, so two
// invocations handling the first messages of the same customer concurrently
// can both open a chat. A chat whose directory write fails after it was opened
// stays open in Amazon Connect.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/asappinc/whatsapp-amazon-connect/pkg/directory"
)

const (
	// Channel is stored on every contact opened by the bridge.
	Channel = "Whatsapp"
)

var ErrSendFailed = errors.New("message not delivered to chat")

// Directory is the contact directory as used by the routers.
type Directory interface {
	Insert(ctx context.Context, rec directory.ContactRecord) error
	Update(ctx context.Context, rec directory.ContactRecord) error
	GetByCustomerID(ctx context.Context, customerID string) (*directory.ContactRecord, error)
	GetByContactID(ctx context.Context, contactID string) (*directory.ContactRecord, error)
	Remove(ctx context.Context, contactID string) error
}

var _ Directory = (*directory.Directory)(nil)

func processBatch(ctx context.Context, logger *slog.Logger, event events.SNSEvent, handle func(context.Context, events.SNSEntity) error) error {
	var errs []error
	for i, record := range event.Records {
		if err := handle(ctx, record.SNS); err != nil {
			logger.Error("record failed", "index", i, "sns_message_id", record.SNS.MessageID, "error", err)
			errs = append(errs, fmt.Errorf("record %d (%s): %w", i, record.SNS.MessageID, err))
		}
	}
	return errors.Join(errs...)
}

// snsAttribute reads the string value of an SNS message attribute as Lambda
// delivers it: {"Type": "String", "Value": "..."}.
func snsAttribute(entity events.SNSEntity, name string) string {
	raw, ok := entity.MessageAttributes[name]
	if !ok {
		return ""
	}
	attr, ok := raw.(map[string]interface{})
	if !ok {
		return ""
	}
	value, _ := attr["Value"].(string)
	return value
}
