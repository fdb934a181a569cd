package whatsapp

import (
	"encoding/json"
	"strings"

	"github.com/iancoleman/orderedmap"
)

// Reactions put on customer messages while they are relayed to the agent.
const (
	ReactionSeen   = "👀"
	ReactionDone   = "✅"
	ReactionFailed = "❌"
)

// Attachment is a file an agent shared in the chat.
type Attachment struct {
	URL         string
	ContentType string
	Name        string
}

// MediaKind maps a MIME type to the WhatsApp message type used to send it.
// PDFs, office files and anything unrecognised are sent as documents.
func MediaKind(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return "image"
	case strings.HasPrefix(contentType, "video/"):
		return "video"
	case strings.HasPrefix(contentType, "audio/"):
		return "audio"
	default:
		return "document"
	}
}

func recipient(to string) string {
	if strings.HasPrefix(to, "+") {
		return to
	}
	return "+" + to
}

func newMessage(to, kind string) *orderedmap.OrderedMap {
	msg := orderedmap.New()
	msg.Set("messaging_product", "whatsapp")
	msg.Set("recipient_type", "individual")
	msg.Set("to", recipient(to))
	msg.Set("type", kind)
	return msg
}

func textPayload(text, to string) ([]byte, error) {
	body := orderedmap.New()
	body.Set("preview_url", false)
	body.Set("body", text)

	msg := newMessage(to, "text")
	msg.Set("text", body)
	return json.Marshal(msg)
}

func attachmentPayload(att Attachment, to string) ([]byte, error) {
	kind := MediaKind(att.ContentType)
	media := orderedmap.New()
	media.Set("link", att.URL)
	if kind == "document" && att.Name != "" {
		media.Set("filename", att.Name)
	}

	msg := newMessage(to, kind)
	msg.Set(kind, media)
	return json.Marshal(msg)
}

func readPayload(messageID string) ([]byte, error) {
	msg := orderedmap.New()
	msg.Set("messaging_product", "whatsapp")
	msg.Set("message_id", messageID)
	msg.Set("status", "read")
	return json.Marshal(msg)
}

func reactionPayload(messageID, emoji, to string) ([]byte, error) {
	reaction := orderedmap.New()
	reaction.Set("message_id", messageID)
	reaction.Set("emoji", emoji)

	msg := newMessage(to, "reaction")
	msg.Set("reaction", reaction)
	return json.Marshal(msg)
}
