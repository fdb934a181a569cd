package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/asappinc/whatsapp-amazon-connect/pkg/chat"
	"github.com/asappinc/whatsapp-amazon-connect/pkg/directory"
	"github.com/asappinc/whatsapp-amazon-connect/pkg/whatsapp"
)

// Sessions is the chat session manager as used by the inbound router.
type Sessions interface {
	StartSession(ctx context.Context, req chat.StartRequest) (chat.Session, error)
	SendMessage(ctx context.Context, text, connectionToken string) chat.SendResult
	SendMessageWithRetryConnection(ctx context.Context, text string, req chat.StartRequest, connectionToken string) (chat.Session, chat.SendResult, error)
}

// Receipts acknowledges customer messages on WhatsApp.
type Receipts interface {
	MarkRead(ctx context.Context, messageID, systemNumber string) error
	React(ctx context.Context, messageID, to, systemNumber, emoji string) error
}

var (
	_ Sessions = (*chat.Manager)(nil)
	_ Receipts = (*whatsapp.SocialSender)(nil)
)

type InboundOptions struct {
	// Reconnect opens a new chat when the stored connection token is rejected.
	Reconnect bool
	// Receipts is optional. When set, every message is marked read and gets a
	// reaction on receipt and once it was relayed or failed.
	Receipts Receipts
}

// InboundRouter forwards customer messages into Amazon Connect.
type InboundRouter struct {
	directory Directory
	sessions  Sessions
	opts      InboundOptions
	logger    *slog.Logger
}

func NewInboundRouter(dir Directory, sessions Sessions, opts InboundOptions, logger *slog.Logger) *InboundRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &InboundRouter{
		directory: dir,
		sessions:  sessions,
		opts:      opts,
		logger:    logger.With("component", "inbound"),
	}
}

// Handle is the Lambda entry point for the WhatsApp topic.
func (r *InboundRouter) Handle(ctx context.Context, event events.SNSEvent) error {
	return processBatch(ctx, r.logger, event, r.handleRecord)
}

func (r *InboundRouter) handleRecord(ctx context.Context, entity events.SNSEntity) error {
	messages, err := whatsapp.ParseInbound([]byte(entity.Message))
	if err != nil {
		return err
	}
	var errs []error
	for i, msg := range messages {
		if err := r.HandleMessage(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("message %d (%s): %w", i, msg.MessageID, err))
		}
	}
	return errors.Join(errs...)
}

// HandleMessage opens a chat for a first-time customer or forwards the text
// into the customer's active chat.
func (r *InboundRouter) HandleMessage(ctx context.Context, msg whatsapp.InboundMessage) error {
	logger := r.logger.With("customer_id", msg.CustomerID, "system_number", msg.SystemNumber)
	if msg.CustomerID == "" || msg.SystemNumber == "" {
		logger.Warn("envelope is missing customer or system number")
	}
	r.markRead(ctx, logger, msg)
	r.react(ctx, logger, msg, whatsapp.ReactionSeen)

	if err := r.relay(ctx, logger, msg); err != nil {
		r.react(ctx, logger, msg, whatsapp.ReactionFailed)
		return err
	}
	r.react(ctx, logger, msg, whatsapp.ReactionDone)
	return nil
}

func (r *InboundRouter) relay(ctx context.Context, logger *slog.Logger, msg whatsapp.InboundMessage) error {
	req := chat.StartRequest{
		Message:      msg.Text,
		CustomerID:   msg.CustomerID,
		Channel:      Channel,
		Name:         msg.CustomerName,
		SystemNumber: msg.SystemNumber,
	}
	if req.Name == "" {
		req.Name = chat.DefaultName
	}

	existing, err := r.directory.GetByCustomerID(ctx, msg.CustomerID)
	if err != nil {
		return err
	}
	if existing == nil || existing.ConnectionToken == "" {
		return r.open(ctx, logger, req)
	}

	logger = logger.With("contact_id", existing.ContactID)
	if msg.Text == "" {
		logger.Info("nothing to forward")
		return nil
	}

	if !r.opts.Reconnect {
		result := r.sessions.SendMessage(ctx, msg.Text, existing.ConnectionToken)
		if !result.OK() {
			return fmt.Errorf("%w: contact %s: %s", ErrSendFailed, existing.ContactID, result)
		}
		return nil
	}

	session, result, err := r.sessions.SendMessageWithRetryConnection(ctx, msg.Text, req, existing.ConnectionToken)
	if err != nil {
		return err
	}
	if !session.IsZero() {
		return r.replace(ctx, logger, existing, session, req)
	}
	if !result.OK() {
		return fmt.Errorf("%w: contact %s: %s", ErrSendFailed, existing.ContactID, result)
	}
	return nil
}

func (r *InboundRouter) open(ctx context.Context, logger *slog.Logger, req chat.StartRequest) error {
	session, err := r.sessions.StartSession(ctx, req)
	if err != nil {
		return err
	}
	if err := r.directory.Insert(ctx, contactRecord(session, req)); err != nil {
		return err
	}
	logger.Info("conversation opened", "contact_id", session.ContactID)
	return nil
}

// replace swaps the directory entry of a chat whose token expired for the
// chat that was opened in its place.
func (r *InboundRouter) replace(ctx context.Context, logger *slog.Logger, stale *directory.ContactRecord, session chat.Session, req chat.StartRequest) error {
	if err := r.directory.Remove(ctx, stale.ContactID); err != nil {
		return err
	}
	if err := r.directory.Update(ctx, contactRecord(session, req)); err != nil {
		return err
	}
	logger.Info("conversation reconnected", "new_contact_id", session.ContactID)
	return nil
}

func (r *InboundRouter) markRead(ctx context.Context, logger *slog.Logger, msg whatsapp.InboundMessage) {
	if r.opts.Receipts == nil || msg.MessageID == "" {
		return
	}
	if err := r.opts.Receipts.MarkRead(ctx, msg.MessageID, msg.SystemNumber); err != nil {
		logger.Warn("could not mark message as read", "message_id", msg.MessageID, "error", err)
	}
}

func (r *InboundRouter) react(ctx context.Context, logger *slog.Logger, msg whatsapp.InboundMessage, emoji string) {
	if r.opts.Receipts == nil || msg.MessageID == "" || msg.CustomerID == "" {
		return
	}
	if err := r.opts.Receipts.React(ctx, msg.MessageID, msg.CustomerID, msg.SystemNumber, emoji); err != nil {
		logger.Warn("could not react to message", "message_id", msg.MessageID, "emoji", emoji, "error", err)
	}
}

func contactRecord(session chat.Session, req chat.StartRequest) directory.ContactRecord {
	return directory.ContactRecord{
		ContactID:        session.ContactID,
		CustomerID:       req.CustomerID,
		ParticipantToken: session.ParticipantToken,
		ConnectionToken:  session.ConnectionToken,
		Name:             req.Name,
		Channel:          req.Channel,
		SystemNumber:     req.SystemNumber,
	}
}
