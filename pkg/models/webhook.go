// Package models holds the wire payloads the WhatsApp gateway posts to the
// webhook endpoint.
package models

import (
	"encoding/json"
	"strings"
)

const (
	EventMessagesUpsert   = "messages.upsert"
	EventMessagesUpdate   = "messages.update"
	EventConnectionUpdate = "connection.update"
	EventQRCodeUpdated    = "qrcode.updated"
)

// WebhookPayload is the envelope of every gateway event. Data depends on
// Event and is decoded by the receiver.
type WebhookPayload struct {
	Event    string          `json:"event"`
	Instance string          `json:"instance"`
	Data     json.RawMessage `json:"data"`
	DateTime string          `json:"date_time"`
	Sender   string          `json:"sender"`
	APIKey   string          `json:"apikey"`
}

// NormalizedEvent accepts both "messages.upsert" and "MESSAGES_UPSERT".
func (p WebhookPayload) NormalizedEvent() string {
	return strings.ReplaceAll(strings.ToLower(p.Event), "_", ".")
}

type MessageKey struct {
	RemoteJID string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	ID        string `json:"id"`
}

// MessageData is the payload of messages.upsert.
type MessageData struct {
	Key              MessageKey     `json:"key"`
	PushName         string         `json:"pushName"`
	Message          MessageContent `json:"message"`
	MessageType      string         `json:"messageType"`
	MessageTimestamp int64          `json:"messageTimestamp"`
}

// MediaMessage represents a media attachment in a WhatsApp message
type MediaMessage struct {
	URL      string `json:"url,omitempty"`
	Mimetype string `json:"mimetype,omitempty"`
	Caption  string `json:"caption,omitempty"`
	FileName string `json:"fileName,omitempty"`
}

type ExtendedText struct {
	Text string `json:"text"`
}

// ButtonReply represents a button click response
type ButtonReply struct {
	SelectedButtonID    string `json:"selectedButtonId"`
	SelectedDisplayText string `json:"selectedDisplayText"`
}

// ListReply represents a list selection response
type ListReply struct {
	Title             string `json:"title"`
	SingleSelectReply struct {
		SelectedRowID string `json:"selectedRowId"`
	} `json:"singleSelectReply"`
}

type MessageContent struct {
	Conversation           string        `json:"conversation,omitempty"`
	ExtendedTextMessage    *ExtendedText `json:"extendedTextMessage,omitempty"`
	ImageMessage           *MediaMessage `json:"imageMessage,omitempty"`
	VideoMessage           *MediaMessage `json:"videoMessage,omitempty"`
	AudioMessage           *MediaMessage `json:"audioMessage,omitempty"`
	DocumentMessage        *MediaMessage `json:"documentMessage,omitempty"`
	ButtonsResponseMessage *ButtonReply  `json:"buttonsResponseMessage,omitempty"`
	ListResponseMessage    *ListReply    `json:"listResponseMessage,omitempty"`
}

// Content flattens the message into the stored body and type. Replies to
// buttons and lists yield the chosen label so flows can match it as text.
func (d MessageData) Content() (body, kind string) {
	m := d.Message
	switch {
	case m.Conversation != "":
		return m.Conversation, "text"
	case m.ExtendedTextMessage != nil:
		return m.ExtendedTextMessage.Text, "text"
	case m.ButtonsResponseMessage != nil:
		return m.ButtonsResponseMessage.SelectedDisplayText, "text"
	case m.ListResponseMessage != nil:
		return m.ListResponseMessage.Title, "text"
	case m.ImageMessage != nil:
		return media("image", m.ImageMessage.Caption), "image"
	case m.VideoMessage != nil:
		return media("video", m.VideoMessage.Caption), "video"
	case m.AudioMessage != nil:
		return "[audio]", "audio"
	case m.DocumentMessage != nil:
		return media("document", m.DocumentMessage.FileName), "document"
	}
	if d.MessageType != "" {
		return "[" + d.MessageType + "]", d.MessageType
	}
	return "", "unknown"
}

func media(kind, label string) string {
	if label == "" {
		return "[" + kind + "]"
	}
	return "[" + kind + "] " + label
}

// IsDirect reports whether the chat is a one-to-one conversation.
func (k MessageKey) IsDirect() bool {
	return strings.HasSuffix(k.RemoteJID, "@s.whatsapp.net") || strings.HasSuffix(k.RemoteJID, "@c.us")
}

// StatusData is the payload of messages.update.
type StatusData struct {
	KeyID     string `json:"keyId"`
	RemoteJID string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	Status    string `json:"status"`
}

// DeliveryStatus maps gateway acks to message statuses.
func (s StatusData) DeliveryStatus() string {
	switch strings.ToUpper(s.Status) {
	case "SERVER_ACK", "PENDING":
		return "sent"
	case "DELIVERY_ACK":
		return "delivered"
	case "READ", "PLAYED":
		return "read"
	case "ERROR":
		return "failed"
	}
	return ""
}

// ConnectionData is the payload of connection.update.
type ConnectionData struct {
	Instance     string `json:"instance"`
	State        string `json:"state"`
	StatusReason int    `json:"statusReason"`
	WUID         string `json:"wuid"`
}

// QRCodeData is the payload of qrcode.updated.
type QRCodeData struct {
	QRCode struct {
		Instance    string `json:"instance"`
		PairingCode string `json:"pairingCode"`
		Code        string `json:"code"`
		Base64      string `json:"base64"`
	} `json:"qrcode"`
}
