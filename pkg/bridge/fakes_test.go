package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"github.com/asappinc/whatsapp-amazon-connect/pkg/chat"
	"github.com/asappinc/whatsapp-amazon-connect/pkg/directory"
	"github.com/asappinc/whatsapp-amazon-connect/pkg/whatsapp"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeDirectory struct {
	records  map[string]directory.ContactRecord
	inserts  []directory.ContactRecord
	updates  []directory.ContactRecord
	removes  []string
	failWith error
}

func newFakeDirectory(records ...directory.ContactRecord) *fakeDirectory {
	d := &fakeDirectory{records: map[string]directory.ContactRecord{}}
	for _, rec := range records {
		d.records[rec.ContactID] = rec
	}
	return d
}

func (d *fakeDirectory) Insert(ctx context.Context, rec directory.ContactRecord) error {
	d.inserts = append(d.inserts, rec)
	if d.failWith != nil {
		return d.failWith
	}
	d.records[rec.ContactID] = rec
	return nil
}

func (d *fakeDirectory) Update(ctx context.Context, rec directory.ContactRecord) error {
	d.updates = append(d.updates, rec)
	if d.failWith != nil {
		return d.failWith
	}
	d.records[rec.ContactID] = rec
	return nil
}

func (d *fakeDirectory) GetByCustomerID(ctx context.Context, customerID string) (*directory.ContactRecord, error) {
	if d.failWith != nil {
		return nil, d.failWith
	}
	for _, rec := range d.records {
		if rec.CustomerID == customerID {
			return &rec, nil
		}
	}
	return nil, nil
}

func (d *fakeDirectory) GetByContactID(ctx context.Context, contactID string) (*directory.ContactRecord, error) {
	if d.failWith != nil {
		return nil, d.failWith
	}
	if rec, ok := d.records[contactID]; ok {
		return &rec, nil
	}
	return nil, nil
}

func (d *fakeDirectory) Remove(ctx context.Context, contactID string) error {
	d.removes = append(d.removes, contactID)
	if d.failWith != nil {
		return d.failWith
	}
	delete(d.records, contactID)
	return nil
}

type sendCall struct {
	Text, Token string
}

type fakeSessions struct {
	starts      []chat.StartRequest
	sends       []sendCall
	retries     []sendCall
	sendResult  chat.SendResult
	startErr    error
	attachments []string
	attachErr   error
	next        int
}

func (s *fakeSessions) StartSession(ctx context.Context, req chat.StartRequest) (chat.Session, error) {
	s.starts = append(s.starts, req)
	if s.startErr != nil {
		return chat.Session{}, s.startErr
	}
	s.next++
	return chat.Session{
		ContactID:        fmt.Sprintf("contact-%d", s.next),
		ParticipantToken: fmt.Sprintf("participant-%d", s.next),
		ConnectionToken:  fmt.Sprintf("connection-%d", s.next),
	}, nil
}

func (s *fakeSessions) SendMessage(ctx context.Context, text, connectionToken string) chat.SendResult {
	s.sends = append(s.sends, sendCall{text, connectionToken})
	return s.sendResult
}

func (s *fakeSessions) SendMessageWithRetryConnection(ctx context.Context, text string, req chat.StartRequest, connectionToken string) (chat.Session, chat.SendResult, error) {
	s.retries = append(s.retries, sendCall{text, connectionToken})
	result := s.SendMessage(ctx, text, connectionToken)
	if result.Outcome != chat.AccessDenied {
		return chat.Session{}, result, nil
	}
	if req.Message == "" {
		req.Message = text
	}
	session, err := s.StartSession(ctx, req)
	return session, result, err
}

func (s *fakeSessions) AttachmentURL(ctx context.Context, attachmentID, connectionToken string) (string, error) {
	s.attachments = append(s.attachments, attachmentID)
	if s.attachErr != nil {
		return "", s.attachErr
	}
	return "https://signed/" + attachmentID, nil
}

type delivery struct {
	Text         string
	Attachment   whatsapp.Attachment
	To           string
	SystemNumber string
}

type reaction struct {
	MessageID, To, Emoji string
}

type fakeSender struct {
	deliveries []delivery
	reads      []string
	reactions  []reaction
	failWith   error
}

func (s *fakeSender) SendText(ctx context.Context, text, to, systemNumber string) error {
	s.deliveries = append(s.deliveries, delivery{Text: text, To: to, SystemNumber: systemNumber})
	return s.failWith
}

func (s *fakeSender) SendAttachment(ctx context.Context, att whatsapp.Attachment, to, systemNumber string) error {
	s.deliveries = append(s.deliveries, delivery{Attachment: att, To: to, SystemNumber: systemNumber})
	return s.failWith
}

func (s *fakeSender) MarkRead(ctx context.Context, messageID, systemNumber string) error {
	s.reads = append(s.reads, messageID)
	return nil
}

func (s *fakeSender) React(ctx context.Context, messageID, to, systemNumber, emoji string) error {
	s.reactions = append(s.reactions, reaction{messageID, to, emoji})
	return nil
}

func snsEvent(t *testing.T, payloads ...any) events.SNSEvent {
	t.Helper()
	var event events.SNSEvent
	for i, payload := range payloads {
		body, err := json.Marshal(payload)
		require.NoError(t, err)
		event.Records = append(event.Records, events.SNSEventRecord{
			SNS: events.SNSEntity{
				MessageID: fmt.Sprintf("sns-%d", i),
				Message:   string(body),
			},
		})
	}
	return event
}
