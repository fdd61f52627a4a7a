package alert

import (
	"fmt"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hazz-dev/reachprobe/internal/prober"
)

// Telegram sends a chat message per transition.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram authorizes the bot token against the Telegram API.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	return NewTelegramWithEndpoint(token, chatID, tgbotapi.APIEndpoint, http.DefaultClient)
}

// NewTelegramWithEndpoint uses a custom API endpoint and client (for testing).
// endpoint has the form of tgbotapi.APIEndpoint.
func NewTelegramWithEndpoint(token string, chatID int64, endpoint string, client tgbotapi.HTTPClient) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	bot.Debug = false
	return &Telegram{bot: bot, chatID: chatID}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ev prober.Event) error {
	msg := tgbotapi.NewMessage(t.chatID, telegramText(ev))
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send to %d: %w", t.chatID, err)
	}
	return nil
}

func telegramText(ev prober.Event) string {
	var b strings.Builder
	if ev.Kind == prober.EventConnected {
		b.WriteString("reachprobe: network reachable again")
	} else {
		b.WriteString("reachprobe: network unreachable")
	}
	fmt.Fprintf(&b, "\nat %s", formatTime(ev.At))
	if ts := formatTime(ev.State.LastConnected); ts != "" && ev.Kind == prober.EventDisconnected {
		fmt.Fprintf(&b, "\nlast connected %s", ts)
	}
	if ts := formatTime(ev.State.LastDisconnected); ts != "" && ev.Kind == prober.EventConnected {
		fmt.Fprintf(&b, "\nlast disconnected %s", ts)
	}
	return b.String()
}
