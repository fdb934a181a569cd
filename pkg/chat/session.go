// Package chat opens Amazon Connect chat contacts on behalf of WhatsApp
// customers and relays customer messages into them.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/connect"
	connecttypes "github.com/aws/aws-sdk-go-v2/service/connect/types"
	"github.com/aws/aws-sdk-go-v2/service/connectparticipant"
	participanttypes "github.com/aws/aws-sdk-go-v2/service/connectparticipant/types"
	"github.com/google/uuid"
)

const (
	DefaultName    = "NN"
	DefaultMessage = "New conversation"

	contentTypeText = "text/plain"
)

var supportedContentTypes = []string{
	"text/plain",
	"text/markdown",
	"application/json",
	"application/vnd.amazonaws.connect.message.interactive",
	"application/vnd.amazonaws.connect.message.interactive.response",
}

type ConnectAPI interface {
	StartChatContact(ctx context.Context, params *connect.StartChatContactInput, optFns ...func(*connect.Options)) (*connect.StartChatContactOutput, error)
	StartContactStreaming(ctx context.Context, params *connect.StartContactStreamingInput, optFns ...func(*connect.Options)) (*connect.StartContactStreamingOutput, error)
	StopContact(ctx context.Context, params *connect.StopContactInput, optFns ...func(*connect.Options)) (*connect.StopContactOutput, error)
}

type ParticipantAPI interface {
	CreateParticipantConnection(ctx context.Context, params *connectparticipant.CreateParticipantConnectionInput, optFns ...func(*connectparticipant.Options)) (*connectparticipant.CreateParticipantConnectionOutput, error)
	SendMessage(ctx context.Context, params *connectparticipant.SendMessageInput, optFns ...func(*connectparticipant.Options)) (*connectparticipant.SendMessageOutput, error)
	GetAttachment(ctx context.Context, params *connectparticipant.GetAttachmentInput, optFns ...func(*connectparticipant.Options)) (*connectparticipant.GetAttachmentOutput, error)
}

var (
	_ ConnectAPI     = (*connect.Client)(nil)
	_ ParticipantAPI = (*connectparticipant.Client)(nil)
)

// Session holds the credentials of an open chat contact. The zero value means
// no session was opened.
type Session struct {
	ContactID        string
	ParticipantToken string
	ConnectionToken  string
}

func (s Session) IsZero() bool { return s.ContactID == "" }

type StartRequest struct {
	Message      string
	CustomerID   string
	Channel      string
	Name         string
	SystemNumber string
}

// Step identifies one stage of opening a session.
type Step string

const (
	StepStartChat        Step = "start_chat"
	StepStartStreaming   Step = "start_streaming"
	StepCreateConnection Step = "create_connection"
)

// StepError reports which stage of StartSession failed. ContactID is set when
// the chat contact was already created and has been handed to the orphan hook.
type StepError struct {
	Step      Step
	ContactID string
	Err       error
}

func (e *StepError) Error() string {
	if e.ContactID == "" {
		return fmt.Sprintf("chat %s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("chat %s for contact %s: %v", e.Step, e.ContactID, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// OrphanHandler is called when a contact was started but the session could
// not be completed.
type OrphanHandler func(ctx context.Context, contactID string, failed Step) error

type Options struct {
	InstanceID          string
	ContactFlowID       string
	ChatDurationMinutes int
	// StreamingTopicARN receives the agent side of the chat. Streaming is
	// skipped when empty.
	StreamingTopicARN string

	// StopOrphanedContacts stops contacts left behind by a failed StartSession.
	// Ignored when OnOrphan is set.
	StopOrphanedContacts bool
	OnOrphan             OrphanHandler
}

type Manager struct {
	connect     ConnectAPI
	participant ParticipantAPI
	opts        Options
	onOrphan    OrphanHandler
	logger      *slog.Logger
}

func NewManager(connectClient ConnectAPI, participantClient ParticipantAPI, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		connect:     connectClient,
		participant: participantClient,
		opts:        opts,
		logger:      logger.With("component", "chat"),
	}
	switch {
	case opts.OnOrphan != nil:
		m.onOrphan = opts.OnOrphan
	case opts.StopOrphanedContacts:
		m.onOrphan = m.stopContact
	default:
		m.onOrphan = m.reportOrphan
	}
	return m
}

// StartSession starts a chat contact, streams it to the configured topic and
// connects the customer participant.
func (m *Manager) StartSession(ctx context.Context, req StartRequest) (Session, error) {
	if req.Message == "" {
		req.Message = DefaultMessage
	}
	if req.Name == "" {
		req.Name = DefaultName
	}

	started, err := m.connect.StartChatContact(ctx, &connect.StartChatContactInput{
		InstanceId:    aws.String(m.opts.InstanceID),
		ContactFlowId: aws.String(m.opts.ContactFlowID),
		Attributes: map[string]string{
			"Channel":      req.Channel,
			"customerId":   req.CustomerID,
			"customerName": req.Name,
			"systemNumber": req.SystemNumber,
		},
		ParticipantDetails: &connecttypes.ParticipantDetails{
			DisplayName: aws.String(req.Name),
		},
		InitialMessage: &connecttypes.ChatMessage{
			ContentType: aws.String(contentTypeText),
			Content:     aws.String(req.Message),
		},
		ChatDurationInMinutes:          aws.Int32(int32(m.opts.ChatDurationMinutes)),
		SupportedMessagingContentTypes: supportedContentTypes,
		ClientToken:                    aws.String(uuid.NewString()),
	})
	if err != nil {
		return Session{}, &StepError{Step: StepStartChat, Err: err}
	}

	session := Session{
		ContactID:        aws.ToString(started.ContactId),
		ParticipantToken: aws.ToString(started.ParticipantToken),
	}
	logger := m.logger.With("contact_id", session.ContactID, "customer_id", req.CustomerID)
	logger.Info("chat contact started")

	if err := m.startStreaming(ctx, session.ContactID); err != nil {
		return Session{}, m.abandon(ctx, session.ContactID, StepStartStreaming, err)
	}

	conn, err := m.participant.CreateParticipantConnection(ctx, &connectparticipant.CreateParticipantConnectionInput{
		ParticipantToken:   aws.String(session.ParticipantToken),
		Type:               []participanttypes.ConnectionType{participanttypes.ConnectionTypeConnectionCredentials},
		ConnectParticipant: aws.Bool(true),
	})
	if err == nil && (conn.ConnectionCredentials == nil || conn.ConnectionCredentials.ConnectionToken == nil) {
		err = errors.New("response carries no connection token")
	}
	if err != nil {
		return Session{}, m.abandon(ctx, session.ContactID, StepCreateConnection, err)
	}
	session.ConnectionToken = aws.ToString(conn.ConnectionCredentials.ConnectionToken)

	logger.Debug("participant connected")
	return session, nil
}

func (m *Manager) startStreaming(ctx context.Context, contactID string) error {
	if m.opts.StreamingTopicARN == "" {
		m.logger.Warn("no streaming topic configured, agent messages will not reach the customer", "contact_id", contactID)
		return nil
	}
	_, err := m.connect.StartContactStreaming(ctx, &connect.StartContactStreamingInput{
		InstanceId: aws.String(m.opts.InstanceID),
		ContactId:  aws.String(contactID),
		ChatStreamingConfiguration: &connecttypes.ChatStreamingConfiguration{
			StreamingEndpointArn: aws.String(m.opts.StreamingTopicARN),
		},
		ClientToken: aws.String(uuid.NewString()),
	})
	return err
}

func (m *Manager) abandon(ctx context.Context, contactID string, step Step, cause error) error {
	stepErr := &StepError{Step: step, ContactID: contactID, Err: cause}
	if err := m.onOrphan(ctx, contactID, step); err != nil {
		m.logger.Error("orphaned contact cleanup failed", "contact_id", contactID, "step", step, "error", err)
		return errors.Join(stepErr, fmt.Errorf("cleanup of contact %s: %w", contactID, err))
	}
	return stepErr
}

func (m *Manager) stopContact(ctx context.Context, contactID string, failed Step) error {
	_, err := m.connect.StopContact(ctx, &connect.StopContactInput{
		InstanceId: aws.String(m.opts.InstanceID),
		ContactId:  aws.String(contactID),
	})
	if err == nil {
		m.logger.Warn("stopped orphaned contact", "contact_id", contactID, "step", failed)
	}
	return err
}

func (m *Manager) reportOrphan(ctx context.Context, contactID string, failed Step) error {
	m.logger.Warn("contact left without directory entry", "contact_id", contactID, "step", failed)
	return nil
}

// SendMessage forwards text into the chat identified by connectionToken.
func (m *Manager) SendMessage(ctx context.Context, text, connectionToken string) SendResult {
	_, err := m.participant.SendMessage(ctx, &connectparticipant.SendMessageInput{
		ContentType:     aws.String(contentTypeText),
		Content:         aws.String(text),
		ConnectionToken: aws.String(connectionToken),
		ClientToken:     aws.String(uuid.NewString()),
	})
	result := Classify(err)
	if !result.OK() {
		m.logger.Warn("send into chat failed", "outcome", result.Outcome.String(), "detail", result.Detail)
	}
	return result
}

// SendMessageWithRetryConnection sends text and, only when the connection
// token was rejected, opens a new session described by req. The returned
// Session is zero unless a new one was opened.
func (m *Manager) SendMessageWithRetryConnection(ctx context.Context, text string, req StartRequest, connectionToken string) (Session, SendResult, error) {
	result := m.SendMessage(ctx, text, connectionToken)
	if result.Outcome != AccessDenied {
		return Session{}, result, nil
	}

	if req.Message == "" {
		req.Message = text
	}
	m.logger.Info("connection token rejected, opening a new chat", "customer_id", req.CustomerID)
	session, err := m.StartSession(ctx, req)
	if err != nil {
		return Session{}, result, err
	}
	return session, result, nil
}

// AttachmentURL returns a signed download URL for an attachment of the chat.
func (m *Manager) AttachmentURL(ctx context.Context, attachmentID, connectionToken string) (string, error) {
	out, err := m.participant.GetAttachment(ctx, &connectparticipant.GetAttachmentInput{
		AttachmentId:    aws.String(attachmentID),
		ConnectionToken: aws.String(connectionToken),
	})
	if err != nil {
		return "", fmt.Errorf("getting attachment %s: %w", attachmentID, err)
	}
	return aws.ToString(out.Url), nil
}
