package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/asappinc/whatsapp-amazon-connect/pkg/chat"
	"github.com/asappinc/whatsapp-amazon-connect/pkg/whatsapp"
)

const (
	TypeMessage    = "MESSAGE"
	TypeAttachment = "ATTACHMENT"
	TypeEvent      = "EVENT"

	RoleCustomer = "CUSTOMER"

	StatusApproved = "APPROVED"

	ContentTypeChatEnded = "application/vnd.amazonaws.connect.event.chat.ended"
)

// ConnectEvent is one streaming message Amazon Connect publishes for a chat.
type ConnectEvent struct {
	Type             string            `json:"Type"`
	ParticipantRole  string            `json:"ParticipantRole"`
	ContactID        string            `json:"ContactId"`
	InitialContactID string            `json:"InitialContactId"`
	Content          string            `json:"Content"`
	ContentType      string            `json:"ContentType"`
	Attachments      []EventAttachment `json:"Attachments"`
}

type EventAttachment struct {
	AttachmentID   string `json:"AttachmentId"`
	AttachmentName string `json:"AttachmentName"`
	ContentType    string `json:"ContentType"`
	Status         string `json:"Status"`
	URL            string `json:"Url"`
}

// AttachmentResolver signs download URLs for chat attachments.
type AttachmentResolver interface {
	AttachmentURL(ctx context.Context, attachmentID, connectionToken string) (string, error)
}

var _ AttachmentResolver = (*chat.Manager)(nil)

// OutboundRouter delivers agent messages and attachments to the customer and
// forgets contacts whose chat ended. Deliveries are attempted once.
type OutboundRouter struct {
	directory   Directory
	sender      whatsapp.Sender
	attachments AttachmentResolver
	logger      *slog.Logger
}

func NewOutboundRouter(dir Directory, sender whatsapp.Sender, attachments AttachmentResolver, logger *slog.Logger) *OutboundRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutboundRouter{
		directory:   dir,
		sender:      sender,
		attachments: attachments,
		logger:      logger.With("component", "outbound"),
	}
}

// Handle is the Lambda entry point for the Connect streaming topic.
func (r *OutboundRouter) Handle(ctx context.Context, event events.SNSEvent) error {
	return processBatch(ctx, r.logger, event, r.handleRecord)
}

func (r *OutboundRouter) handleRecord(ctx context.Context, entity events.SNSEntity) error {
	var event ConnectEvent
	if err := json.Unmarshal([]byte(entity.Message), &event); err != nil {
		return fmt.Errorf("decoding connect event: %w", err)
	}
	if event.ContentType == "" {
		event.ContentType = snsAttribute(entity, "ContentType")
	}

	switch visibility := snsAttribute(entity, "MessageVisibility"); visibility {
	case "", "CUSTOMER", "ALL":
	default:
		r.logger.Debug("message not visible to customer", "contact_id", event.ContactID, "visibility", visibility)
		return nil
	}
	return r.HandleEvent(ctx, event)
}

func (r *OutboundRouter) HandleEvent(ctx context.Context, event ConnectEvent) error {
	// the customer's own messages come back on the stream too
	if event.ParticipantRole == RoleCustomer {
		return nil
	}

	switch event.Type {
	case TypeMessage:
		return r.deliverMessage(ctx, event)
	case TypeAttachment:
		return r.deliverAttachments(ctx, event)
	case TypeEvent:
		if event.ContentType != ContentTypeChatEnded {
			return nil
		}
		contactID := event.InitialContactID
		if contactID == "" {
			contactID = event.ContactID
		}
		if err := r.directory.Remove(ctx, contactID); err != nil {
			return err
		}
		r.logger.Info("conversation closed", "contact_id", contactID)
		return nil
	default:
		r.logger.Debug("ignoring event", "type", event.Type, "contact_id", event.ContactID)
		return nil
	}
}

func (r *OutboundRouter) deliverMessage(ctx context.Context, event ConnectEvent) error {
	customer, err := r.directory.GetByContactID(ctx, event.ContactID)
	if err != nil {
		return err
	}
	if customer == nil {
		r.logger.Warn("contact not found", "contact_id", event.ContactID)
		return nil
	}
	return r.sender.SendText(ctx, event.Content, customer.CustomerID, customer.SystemNumber)
}

func (r *OutboundRouter) deliverAttachments(ctx context.Context, event ConnectEvent) error {
	customer, err := r.directory.GetByContactID(ctx, event.ContactID)
	if err != nil {
		return err
	}
	if customer == nil {
		r.logger.Warn("contact not found", "contact_id", event.ContactID)
		return nil
	}

	var errs []error
	for _, att := range event.Attachments {
		if att.Status != StatusApproved {
			r.logger.Debug("skipping attachment", "attachment_id", att.AttachmentID, "status", att.Status)
			continue
		}
		url := att.URL
		if url == "" && att.AttachmentID != "" && r.attachments != nil {
			url, err = r.attachments.AttachmentURL(ctx, att.AttachmentID, customer.ConnectionToken)
			if err != nil {
				errs = append(errs, err)
				continue
			}
		}
		sendErr := r.sender.SendAttachment(ctx, whatsapp.Attachment{
			URL:         url,
			ContentType: att.ContentType,
			Name:        att.AttachmentName,
		}, customer.CustomerID, customer.SystemNumber)
		if sendErr != nil {
			errs = append(errs, sendErr)
		}
	}
	return errors.Join(errs...)
}
