package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"hybrid_chat/internal/chat"
	"hybrid_chat/internal/model"
	"hybrid_chat/internal/utils/log"

	"github.com/gdamore/tcell/v2"
	"github.com/gorilla/websocket"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

type (
	App struct {
		app     *tview.Application
		chatbox *tview.TextView
		input   *tview.InputField

		api    *API
		user   *model.User
		peerID string
		chatID string

		writeMu sync.Mutex
		conn    *websocket.Conn
	}
)

func NewApp(api *API) *App {
	return &App{
		app: tview.NewApplication(),
		api: api,
	}
}

// Run logs in, opens the chat with peerID and blocks until the UI exits.
func (c *App) Run(ctx context.Context, user *model.User, peerID string) error {
	chatID, err := chat.ID(user.ID, peerID)
	if err != nil {
		return err
	}
	c.chatID = chatID
	c.peerID = peerID

	c.user, err = c.api.Login(ctx, user)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	history, err := c.api.History(ctx, c.chatID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	c.conn, err = c.api.Dial(ctx, c.user.ID)
	if err != nil {
		return fmt.Errorf("connect websocket: %w", err)
	}
	defer c.conn.Close()

	if err := c.write(&model.InboundFrame{Type: model.FrameJoin, ChatID: c.chatID, UserID: c.user.ID}); err != nil {
		return fmt.Errorf("join %s: %w", c.chatID, err)
	}

	c.buildUI()
	for _, msg := range history {
		fmt.Fprint(c.chatbox, formatMessage(c.user.ID, msg))
	}
	c.chatbox.ScrollToEnd()

	go c.listenOnWebsocket()
	return c.app.Run()
}

func (c *App) Stop() {
	c.app.Stop()
}

func (c *App) buildUI() {
	c.chatbox = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	c.chatbox.SetBorder(true).SetTitle(fmt.Sprintf(" Chat with %s ", c.peerID))

	c.input = tview.NewInputField().
		SetLabel("Message: ").
		SetFieldWidth(0)
	c.input.SetBorder(true).SetTitle(" New Message ")

	c.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := c.input.GetText()
		if text == "" {
			return
		}
		c.input.SetText("")

		go func(msg string) {
			if err := c.SendMessage(msg); err != nil {
				log.Error("send message failed", zap.Error(err))
				c.show(fmt.Sprintf("[red]send failed:[-] %s\n", tview.Escape(err.Error())))
			}
		}(text)
	})

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(c.chatbox, 0, 1, false).
		AddItem(c.input, 3, 0, true)

	c.app.SetRoot(layout, true).SetFocus(c.input)
}

func (c *App) listenOnWebsocket() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Debug("web socket closed", zap.Error(err))
			c.show("[red]connection closed[-]\n")
			return
		}

		line, ok := formatFrame(c.user.ID, data)
		if !ok {
			log.Warn("unrecognized frame", zap.ByteString("frame", data))
			continue
		}
		c.show(line)
	}
}

// SendMessage sends text to the open chat. The message is rendered when the
// relay echoes it back.
func (c *App) SendMessage(text string) error {
	return c.write(&model.InboundFrame{
		Type:     model.FrameMessage,
		ChatID:   c.chatID,
		SenderID: c.user.ID,
		Username: c.user.Username,
		Picture:  c.user.Picture,
		Text:     text,
	})
}

func (c *App) write(frame *model.InboundFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(frame)
}

func (c *App) show(line string) {
	c.app.QueueUpdateDraw(func() {
		fmt.Fprint(c.chatbox, line)
		c.chatbox.ScrollToEnd()
	})
}

// formatFrame renders one relay frame as a chatbox line.
func formatFrame(self string, data []byte) (string, bool) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", false
	}

	switch head.Type {
	case model.FrameMessage:
		var f model.MessageFrame
		if err := json.Unmarshal(data, &f); err != nil || f.Message == nil {
			return "", false
		}
		return formatMessage(self, f.Message), true
	case model.FrameError, model.FrameWarning:
		var n model.NoticeFrame
		if err := json.Unmarshal(data, &n); err != nil {
			return "", false
		}
		color := "red"
		if n.Type == model.FrameWarning {
			color = "orange"
		}
		return fmt.Sprintf("[%s]%s %s:[-] %s\n", color, n.Type, n.Code, tview.Escape(n.Message)), true
	}
	return "", false
}

func formatMessage(self string, m *model.ChatMessage) string {
	if m.SenderID == self {
		return fmt.Sprintf("[yellow]You:[-] %s\n", tview.Escape(m.Text))
	}
	name := m.Username
	if name == "" {
		name = m.SenderID
	}
	return fmt.Sprintf("[green]%s:[-] %s\n", tview.Escape(name), tview.Escape(m.Text))
}
