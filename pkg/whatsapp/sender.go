// Package whatsapp decodes customer messages arriving from WhatsApp and
// delivers agent replies back to the customer.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/aws-sdk-go-v2/service/socialmessaging"
)

const DefaultMetaAPIVersion = "v21.0"

// Sender delivers content to a customer. systemNumber is the business number
// the customer wrote to.
type Sender interface {
	SendText(ctx context.Context, text, to, systemNumber string) error
	SendAttachment(ctx context.Context, att Attachment, to, systemNumber string) error
}

type SocialMessagingAPI interface {
	SendWhatsAppMessage(ctx context.Context, params *socialmessaging.SendWhatsAppMessageInput, optFns ...func(*socialmessaging.Options)) (*socialmessaging.SendWhatsAppMessageOutput, error)
}

type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

var (
	_ SocialMessagingAPI = (*socialmessaging.Client)(nil)
	_ SNSAPI             = (*sns.Client)(nil)

	_ Sender = (*SocialSender)(nil)
	_ Sender = (*SNSSender)(nil)
)

// SocialSender sends WhatsApp Cloud API messages through AWS End User Messaging Social.
type SocialSender struct {
	client     SocialMessagingAPI
	apiVersion string
	logger     *slog.Logger
}

func NewSocialSender(client SocialMessagingAPI, apiVersion string, logger *slog.Logger) *SocialSender {
	if apiVersion == "" {
		apiVersion = DefaultMetaAPIVersion
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SocialSender{
		client:     client,
		apiVersion: apiVersion,
		logger:     logger.With("component", "whatsapp", "delivery", "social"),
	}
}

func (s *SocialSender) SendText(ctx context.Context, text, to, systemNumber string) error {
	payload, err := textPayload(text, to)
	if err != nil {
		return fmt.Errorf("encoding text message: %w", err)
	}
	return s.send(ctx, payload, systemNumber, "text")
}

func (s *SocialSender) SendAttachment(ctx context.Context, att Attachment, to, systemNumber string) error {
	payload, err := attachmentPayload(att, to)
	if err != nil {
		return fmt.Errorf("encoding attachment %s: %w", att.Name, err)
	}
	return s.send(ctx, payload, systemNumber, MediaKind(att.ContentType))
}

// MarkRead flags a customer message as read.
func (s *SocialSender) MarkRead(ctx context.Context, messageID, systemNumber string) error {
	payload, err := readPayload(messageID)
	if err != nil {
		return fmt.Errorf("encoding read receipt: %w", err)
	}
	return s.send(ctx, payload, systemNumber, "read")
}

// React puts an emoji reaction on a customer message.
func (s *SocialSender) React(ctx context.Context, messageID, to, systemNumber, emoji string) error {
	payload, err := reactionPayload(messageID, emoji, to)
	if err != nil {
		return fmt.Errorf("encoding reaction: %w", err)
	}
	return s.send(ctx, payload, systemNumber, "reaction")
}

func (s *SocialSender) send(ctx context.Context, payload []byte, systemNumber, kind string) error {
	out, err := s.client.SendWhatsAppMessage(ctx, &socialmessaging.SendWhatsAppMessageInput{
		OriginationPhoneNumberId: aws.String(PhoneNumberID(systemNumber)),
		MetaApiVersion:           aws.String(s.apiVersion),
		Message:                  payload,
	})
	if err != nil {
		return fmt.Errorf("sending whatsapp %s: %w", kind, err)
	}
	s.logger.Debug("whatsapp message sent", "kind", kind, "message_id", aws.ToString(out.MessageId))
	return nil
}

// SNSSender publishes replies straight to the customer's phone number.
type SNSSender struct {
	client SNSAPI
	logger *slog.Logger
}

func NewSNSSender(client SNSAPI, logger *slog.Logger) *SNSSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &SNSSender{
		client: client,
		logger: logger.With("component", "whatsapp", "delivery", "sns"),
	}
}

func (s *SNSSender) SendText(ctx context.Context, text, to, systemNumber string) error {
	out, err := s.client.Publish(ctx, &sns.PublishInput{
		Message:     aws.String(text),
		PhoneNumber: aws.String(recipient(to)),
	})
	if err != nil {
		return fmt.Errorf("publishing text: %w", err)
	}
	s.logger.Debug("text published", "message_id", aws.ToString(out.MessageId))
	return nil
}

func (s *SNSSender) SendAttachment(ctx context.Context, att Attachment, to, systemNumber string) error {
	// SNS rejects string attributes with an empty value
	var attrs map[string]snstypes.MessageAttributeValue
	for name, value := range map[string]string{"contentType": att.ContentType, "filename": att.Name} {
		if value == "" {
			continue
		}
		if attrs == nil {
			attrs = map[string]snstypes.MessageAttributeValue{}
		}
		attrs[name] = stringAttribute(value)
	}
	out, err := s.client.Publish(ctx, &sns.PublishInput{
		Message:           aws.String(att.URL),
		PhoneNumber:       aws.String(recipient(to)),
		MessageAttributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("publishing attachment %s: %w", att.Name, err)
	}
	s.logger.Debug("attachment published", "message_id", aws.ToString(out.MessageId))
	return nil
}

func stringAttribute(value string) snstypes.MessageAttributeValue {
	return snstypes.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(value),
	}
}
