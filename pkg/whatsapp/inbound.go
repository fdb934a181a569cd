package whatsapp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws/arn"
)

// InboundMessage is one customer message received on a WhatsApp number.
type InboundMessage struct {
	MessageID    string
	CustomerID   string
	CustomerName string
	SystemNumber string
	Text         string
}

type flatEnvelope struct {
	Message struct {
		Text struct {
			Body string `json:"body"`
		} `json:"text"`
		CustomerName string `json:"customer_name"`
		ID           string `json:"id"`
	} `json:"message"`
	Metadata struct {
		PhoneNumber  string `json:"phone_number"`
		SystemNumber string `json:"system_number"`
	} `json:"metadata"`
}

// socialEnvelope is the notification End User Messaging Social publishes for
// every WhatsApp webhook call.
type socialEnvelope struct {
	Context struct {
		MetaPhoneNumberIds []struct {
			Arn               string `json:"arn"`
			MetaPhoneNumberID string `json:"metaPhoneNumberId"`
		} `json:"MetaPhoneNumberIds"`
	} `json:"context"`
	WebhookEntry string `json:"whatsAppWebhookEntry"`
}

type webhookEntry struct {
	Changes []struct {
		Field string `json:"field"`
		Value struct {
			Metadata struct {
				PhoneNumberID string `json:"phone_number_id"`
			} `json:"metadata"`
			Contacts []struct {
				WaID    string `json:"wa_id"`
				Profile struct {
					Name string `json:"name"`
				} `json:"profile"`
			} `json:"contacts"`
			Messages []webhookMessage `json:"messages"`
		} `json:"value"`
	} `json:"changes"`
}

type webhookMessage struct {
	From string `json:"from"`
	ID   string `json:"id"`
	Type string `json:"type"`
	Text struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *media `json:"image"`
	Document *media `json:"document"`
	Video    *media `json:"video"`
}

type media struct {
	Caption string `json:"caption"`
}

// ParseInbound decodes an SNS message body into customer messages. Both the
// flat {message, metadata} form and the End User Messaging Social webhook
// form are accepted. Fields missing from the flat form are left empty.
func ParseInbound(body []byte) ([]InboundMessage, error) {
	var social socialEnvelope
	if err := json.Unmarshal(body, &social); err != nil {
		return nil, fmt.Errorf("decoding whatsapp envelope: %w", err)
	}
	if social.WebhookEntry != "" {
		return parseWebhook(social)
	}

	var flat flatEnvelope
	if err := json.Unmarshal(body, &flat); err != nil {
		return nil, fmt.Errorf("decoding whatsapp envelope: %w", err)
	}
	return []InboundMessage{{
		MessageID:    flat.Message.ID,
		CustomerID:   flat.Metadata.PhoneNumber,
		CustomerName: flat.Message.CustomerName,
		SystemNumber: flat.Metadata.SystemNumber,
		Text:         flat.Message.Text.Body,
	}}, nil
}

func parseWebhook(env socialEnvelope) ([]InboundMessage, error) {
	var entry webhookEntry
	if err := json.Unmarshal([]byte(env.WebhookEntry), &entry); err != nil {
		return nil, fmt.Errorf("decoding webhook entry: %w", err)
	}

	var messages []InboundMessage
	for _, change := range entry.Changes {
		// statuses and other fields carry no customer text
		if change.Field != "messages" {
			continue
		}
		value := change.Value
		systemNumber := value.Metadata.PhoneNumberID
		for _, id := range env.Context.MetaPhoneNumberIds {
			if id.MetaPhoneNumberID == value.Metadata.PhoneNumberID {
				systemNumber = PhoneNumberID(id.Arn)
				break
			}
		}

		for _, msg := range value.Messages {
			name := ""
			for _, contact := range value.Contacts {
				if contact.WaID == msg.From {
					name = contact.Profile.Name
					break
				}
			}
			messages = append(messages, InboundMessage{
				MessageID:    msg.ID,
				CustomerID:   msg.From,
				CustomerName: name,
				SystemNumber: systemNumber,
				Text:         msg.text(),
			})
		}
	}
	return messages, nil
}

// text is the body of a text message or the caption of a media message.
// Audio and stickers carry no text.
func (m webhookMessage) text() string {
	switch m.Type {
	case "image":
		return m.Image.caption()
	case "document":
		return m.Document.caption()
	case "video":
		return m.Video.caption()
	default:
		return m.Text.Body
	}
}

func (m *media) caption() string {
	if m == nil {
		return ""
	}
	return m.Caption
}

// PhoneNumberID turns a social messaging phone number ARN
// (arn:aws:social-messaging:region:account:phone-number-id/abc) into the
// origination id accepted by SendWhatsAppMessage (phone-number-id-abc).
// Values that are not ARNs are returned unchanged.
func PhoneNumberID(value string) string {
	if !arn.IsARN(value) {
		return value
	}
	parsed, err := arn.Parse(value)
	if err != nil {
		return value
	}
	return strings.ReplaceAll(parsed.Resource, "/", "-")
}
