// Package notify forwards operator alerts, such as orders that were paid but
// could not be entitled, to a Telegram chat.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"pixelmint-ledger/lib/sl"
)

type Notifier interface {
	Alert(ctx context.Context, text string)
}

type Telegram struct {
	bot    *telego.Bot
	chatID int64
	log    *slog.Logger
}

func NewTelegram(token string, chatID int64, log *slog.Logger) (*Telegram, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID, log: log.With(sl.Module("notify"))}, nil
}

func (t *Telegram) Alert(ctx context.Context, text string) {
	_, err := t.bot.SendMessage(ctx, tu.Message(tu.ID(t.chatID), "⚠️ "+text))
	if err != nil {
		t.log.Error("send alert", sl.Err(err))
	}
}

// Log writes alerts to the logger only; used when no bot token is configured.
type Log struct {
	log *slog.Logger
}

func NewLog(log *slog.Logger) *Log {
	return &Log{log: log.With(sl.Module("notify"))}
}

func (l *Log) Alert(_ context.Context, text string) {
	l.log.Warn("operator alert", slog.String("text", text))
}
