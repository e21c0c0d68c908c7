package app

import (
	"context"
	"fmt"
	"time"

	"emcipher/internal/service/relayclient"
	"emcipher/internal/service/session"
	"emcipher/internal/utils/log"

	"github.com/gdamore/tcell/v2"
	"github.com/gorilla/websocket"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

type (
	// App is the terminal chat client: presentation glue around a
	// Session. All cryptography happens inside the session; the UI only
	// sees plaintext.
	App struct {
		app     *tview.Application
		chatbox *tview.TextView
		input   *tview.InputField

		sess   *session.Session
		relay  *relayclient.Client
		convID string

		conn *websocket.Conn
	}
)

func NewApp(relay *relayclient.Client, sess *session.Session, convID string) *App {
	return &App{
		app:    tview.NewApplication(),
		sess:   sess,
		relay:  relay,
		convID: convID,
	}
}

// Run blocks until the UI exits.
func (c *App) Run(ctx context.Context) {
	conn, err := c.relay.Watch(ctx, c.convID)
	if err != nil {
		log.Error("watch stream unavailable, falling back to polling", zap.Error(err))
	} else {
		c.conn = conn
		go c.listenOnWatch(ctx)
	}

	go c.pollLoop(ctx)
	c.renderUI()
}

func (c *App) Stop() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.sess.Close()
	c.app.Stop()
}

// blocking function
func (c *App) renderUI() {
	c.chatbox = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	c.chatbox.SetBorder(true).SetTitle(fmt.Sprintf(" Conversation %s ", c.convID))

	c.input = tview.NewInputField().
		SetLabel("Message: ").
		SetFieldWidth(0)
	c.input.SetBorder(true).SetTitle(" New Message ")

	c.input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			text := c.input.GetText()
			if text == "" {
				return
			}

			go func(msg string) {
				if _, err := c.sess.Send(context.TODO(), msg); err != nil {
					c.app.Suspend(func() {
						log.Error("send message failed", zap.Error(err))
					})
					return
				}
				c.app.QueueUpdateDraw(func() {
					fmt.Fprintf(c.chatbox, "[yellow]You:[-] %s\n", msg)
					c.input.SetText("")
					c.chatbox.ScrollToEnd()
				})
			}(text)
		}
	})

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(c.chatbox, 0, 1, false).
		AddItem(c.input, 3, 0, true)

	if err := c.app.SetRoot(layout, true).SetFocus(c.input).Run(); err != nil {
		log.Fatal("cannot init app", zap.Error(err))
	}
}

// listenOnWatch treats every push as a wakeup and fetches through the
// session, which skips our own messages and acknowledges what it decrypts.
func (c *App) listenOnWatch(ctx context.Context) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			log.Debug("watch stream closed", zap.Error(err))
			c.conn.Close()
			return
		}
		c.fetchAndDisplay(ctx)
	}
}

// pollLoop covers missed pushes and relays without a watch stream.
func (c *App) pollLoop(ctx context.Context) {
	c.fetchAndDisplay(ctx)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.fetchAndDisplay(ctx)
		}
	}
}

func (c *App) fetchAndDisplay(ctx context.Context) {
	received, err := c.sess.Fetch(ctx)
	if err != nil {
		log.Error("fetch messages failed", zap.Error(err))
		return
	}

	for _, msg := range received {
		c.app.QueueUpdateDraw(func() {
			fmt.Fprintf(c.chatbox, "[green]Peer:[-] %s\n", msg.Plaintext)
			c.chatbox.ScrollToEnd()
		})
	}
}
