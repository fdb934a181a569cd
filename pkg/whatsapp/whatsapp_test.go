package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/socialmessaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestParseInboundFlat(t *testing.T) {
	body := `{"message":{"text":{"body":"Hola"}},"metadata":{"phone_number":"+5551234","system_number":"100"}}`

	messages, err := ParseInbound([]byte(body))
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, InboundMessage{
		CustomerID:   "+5551234",
		SystemNumber: "100",
		Text:         "Hola",
	}, messages[0])
}

func TestParseInboundFlatMissingFields(t *testing.T) {
	messages, err := ParseInbound([]byte(`{}`))
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, InboundMessage{}, messages[0])
}

func TestParseInboundRejectsGarbage(t *testing.T) {
	_, err := ParseInbound([]byte(`not json`))
	assert.Error(t, err)
}

func TestParseInboundWebhookEntry(t *testing.T) {
	entry := `{"id":"waba-1","changes":[` +
		`{"field":"messages","value":{"metadata":{"phone_number_id":"976c72"},` +
		`"contacts":[{"wa_id":"5551234","profile":{"name":"Ana"}}],` +
		`"messages":[{"from":"5551234","id":"wamid.1","type":"text","text":{"body":"Hola"}},` +
		`{"from":"5559999","id":"wamid.2","type":"image","image":{"caption":"mira"}}]}},` +
		`{"field":"statuses","value":{}}]}`
	envelope := map[string]any{
		"context": map[string]any{
			"MetaPhoneNumberIds": []map[string]string{
				{"arn": "arn:aws:social-messaging:us-east-1:123456789012:phone-number-id/976c72", "metaPhoneNumberId": "976c72"},
			},
		},
		"whatsAppWebhookEntry": entry,
	}
	body, err := json.Marshal(envelope)
	require.NoError(t, err)

	messages, err := ParseInbound(body)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, InboundMessage{
		MessageID:    "wamid.1",
		CustomerID:   "5551234",
		CustomerName: "Ana",
		SystemNumber: "phone-number-id-976c72",
		Text:         "Hola",
	}, messages[0])
	assert.Equal(t, "mira", messages[1].Text)
	assert.Empty(t, messages[1].CustomerName)
}

func TestParseInboundCaptionFollowsMessageType(t *testing.T) {
	entry := `{"changes":[{"field":"messages","value":{"metadata":{"phone_number_id":"976c72"},"messages":[` +
		`{"from":"5551234","id":"wamid.1","type":"document","document":{"caption":"factura","filename":"f.pdf"}},` +
		`{"from":"5551234","id":"wamid.2","type":"audio","audio":{"id":"media-1"}},` +
		`{"from":"5551234","id":"wamid.3","type":"video","video":{}}]}}]}`
	body, err := json.Marshal(map[string]any{"whatsAppWebhookEntry": entry})
	require.NoError(t, err)

	messages, err := ParseInbound(body)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "factura", messages[0].Text)
	assert.Empty(t, messages[1].Text)
	assert.Empty(t, messages[2].Text)
	assert.Equal(t, "976c72", messages[0].SystemNumber)
}

func TestPhoneNumberID(t *testing.T) {
	assert.Equal(t, "phone-number-id-abc", PhoneNumberID("arn:aws:social-messaging:us-east-1:123456789012:phone-number-id/abc"))
	assert.Equal(t, "100", PhoneNumberID("100"))
}

func TestMediaKind(t *testing.T) {
	assert.Equal(t, "image", MediaKind("image/png"))
	assert.Equal(t, "video", MediaKind("video/mp4"))
	assert.Equal(t, "audio", MediaKind("audio/ogg"))
	assert.Equal(t, "document", MediaKind("application/pdf"))
	assert.Equal(t, "document", MediaKind("application/zip"))
}

type fakeSocial struct {
	inputs []*socialmessaging.SendWhatsAppMessageInput
	err    error
}

func (f *fakeSocial) SendWhatsAppMessage(ctx context.Context, in *socialmessaging.SendWhatsAppMessageInput, _ ...func(*socialmessaging.Options)) (*socialmessaging.SendWhatsAppMessageOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &socialmessaging.SendWhatsAppMessageOutput{MessageId: aws.String("out-1")}, nil
}

func TestSocialSenderText(t *testing.T) {
	client := &fakeSocial{}
	sender := NewSocialSender(client, "", discard)

	require.NoError(t, sender.SendText(context.Background(), "Hola, soy Maria", "5551234", "phone-number-id-abc"))
	require.Len(t, client.inputs, 1)
	in := client.inputs[0]
	assert.Equal(t, "phone-number-id-abc", aws.ToString(in.OriginationPhoneNumberId))
	assert.Equal(t, DefaultMetaAPIVersion, aws.ToString(in.MetaApiVersion))
	assert.Equal(t,
		`{"messaging_product":"whatsapp","recipient_type":"individual","to":"+5551234","type":"text","text":{"preview_url":false,"body":"Hola, soy Maria"}}`,
		string(in.Message))
}

func TestSocialSenderDocumentAttachment(t *testing.T) {
	client := &fakeSocial{}
	sender := NewSocialSender(client, "v20.0", discard)

	att := Attachment{URL: "https://files/invoice.pdf", ContentType: "application/pdf", Name: "invoice.pdf"}
	require.NoError(t, sender.SendAttachment(context.Background(), att, "+5551234", "arn:aws:social-messaging:us-east-1:123456789012:phone-number-id/abc"))

	in := client.inputs[0]
	assert.Equal(t, "phone-number-id-abc", aws.ToString(in.OriginationPhoneNumberId))
	assert.Equal(t, "v20.0", aws.ToString(in.MetaApiVersion))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(in.Message, &payload))
	assert.Equal(t, "document", payload["type"])
	assert.Equal(t, map[string]any{"link": "https://files/invoice.pdf", "filename": "invoice.pdf"}, payload["document"])
}

func TestSocialSenderImageHasNoFilename(t *testing.T) {
	client := &fakeSocial{}
	sender := NewSocialSender(client, "", discard)

	att := Attachment{URL: "https://files/cat.png", ContentType: "image/png", Name: "cat.png"}
	require.NoError(t, sender.SendAttachment(context.Background(), att, "+5551234", "100"))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(client.inputs[0].Message, &payload))
	assert.Equal(t, "image", payload["type"])
	assert.Equal(t, map[string]any{"link": "https://files/cat.png"}, payload["image"])
}

func TestSocialSenderMarkRead(t *testing.T) {
	client := &fakeSocial{}
	sender := NewSocialSender(client, "", discard)

	require.NoError(t, sender.MarkRead(context.Background(), "wamid.1", "100"))
	assert.Equal(t, `{"messaging_product":"whatsapp","message_id":"wamid.1","status":"read"}`, string(client.inputs[0].Message))
}

func TestSocialSenderReact(t *testing.T) {
	client := &fakeSocial{}
	sender := NewSocialSender(client, "", discard)

	require.NoError(t, sender.React(context.Background(), "wamid.1", "5551234", "100", ReactionSeen))
	require.Len(t, client.inputs, 1)
	assert.Equal(t, "100", aws.ToString(client.inputs[0].OriginationPhoneNumberId))
	assert.Equal(t,
		`{"messaging_product":"whatsapp","recipient_type":"individual","to":"+5551234","type":"reaction","reaction":{"message_id":"wamid.1","emoji":"👀"}}`,
		string(client.inputs[0].Message))
}

func TestSocialSenderError(t *testing.T) {
	boom := errors.New("number not registered")
	sender := NewSocialSender(&fakeSocial{err: boom}, "", discard)

	err := sender.SendText(context.Background(), "hi", "+1", "100")
	assert.ErrorIs(t, err, boom)
}

type fakeSNS struct {
	inputs []*sns.PublishInput
}

func (f *fakeSNS) Publish(ctx context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.inputs = append(f.inputs, in)
	return &sns.PublishOutput{MessageId: aws.String("sns-1")}, nil
}

func TestSNSSender(t *testing.T) {
	client := &fakeSNS{}
	sender := NewSNSSender(client, discard)
	ctx := context.Background()

	require.NoError(t, sender.SendText(ctx, "hello", "5551234", "100"))
	require.NoError(t, sender.SendAttachment(ctx, Attachment{URL: "https://files/a.pdf", ContentType: "application/pdf", Name: "a.pdf"}, "+5551234", "100"))

	require.Len(t, client.inputs, 2)
	assert.Equal(t, "hello", aws.ToString(client.inputs[0].Message))
	assert.Equal(t, "+5551234", aws.ToString(client.inputs[0].PhoneNumber))
	assert.Empty(t, client.inputs[0].MessageAttributes)

	attrs := client.inputs[1].MessageAttributes
	assert.Equal(t, "https://files/a.pdf", aws.ToString(client.inputs[1].Message))
	assert.Equal(t, "application/pdf", aws.ToString(attrs["contentType"].StringValue))
	assert.Equal(t, "a.pdf", aws.ToString(attrs["filename"].StringValue))
}

func TestSNSSenderSkipsEmptyAttributes(t *testing.T) {
	client := &fakeSNS{}
	sender := NewSNSSender(client, discard)
	ctx := context.Background()

	require.NoError(t, sender.SendAttachment(ctx, Attachment{URL: "https://files/scan", ContentType: "image/png"}, "5551234", "100"))
	require.NoError(t, sender.SendAttachment(ctx, Attachment{URL: "https://files/blob"}, "5551234", "100"))

	require.Len(t, client.inputs, 2)
	attrs := client.inputs[0].MessageAttributes
	assert.Len(t, attrs, 1)
	assert.Equal(t, "image/png", aws.ToString(attrs["contentType"].StringValue))
	assert.NotContains(t, attrs, "filename")
	assert.Empty(t, client.inputs[1].MessageAttributes)
}
