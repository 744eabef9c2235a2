package model

const (
	FrameJoin    = "join"
	FrameMessage = "message"
	FrameError   = "error"
	FrameWarning = "warning"
)

type (
	ChatMessage struct {
		ChatID    string `json:"chat_id" bson:"chat_id"`
		SenderID  string `json:"sender_id" bson:"sender_id"`
		Username  string `json:"username" bson:"username"`
		Picture   string `json:"picture,omitempty" bson:"picture,omitempty"`
		Text      string `json:"text" bson:"text"`
		Timestamp int64  `json:"timestamp" bson:"timestamp"` // unix millis
	}

	// InboundFrame is any frame a connection may send. Frames without a type
	// but carrying text are legacy message frames.
	InboundFrame struct {
		Type      string `json:"type,omitempty"`
		ChatID    string `json:"chat_id"`
		UserID    string `json:"user_id,omitempty"`
		SenderID  string `json:"sender_id,omitempty"`
		Username  string `json:"username,omitempty"`
		Picture   string `json:"picture,omitempty"`
		Text      string `json:"text,omitempty"`
		Timestamp int64  `json:"timestamp,omitempty"`
	}

	MessageFrame struct {
		Type    string       `json:"type"`
		Message *ChatMessage `json:"message"`
	}

	// NoticeFrame is sent only to the originating connection: a rejected frame
	// (type "error") or a degraded delivery (type "warning").
	NoticeFrame struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
		ChatID  string `json:"chat_id,omitempty"`
	}
)

func (f *InboundFrame) Message() *ChatMessage {
	return &ChatMessage{
		ChatID:    f.ChatID,
		SenderID:  f.SenderID,
		Username:  f.Username,
		Picture:   f.Picture,
		Text:      f.Text,
		Timestamp: f.Timestamp,
	}
}
