package notify

// Run reports to a Telegram chat: an HTML summary and, after a successful run,
// a bar chart of the top holders. Delivery problems are logged by the caller, never fatal.

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"rune-holders/internal/features/holders"
	"rune-holders/internal/features/publish"
	"rune-holders/internal/features/tg_charts"
	logging "rune-holders/internal/infra/log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

type Report struct {
	RunID        string
	Rune         string
	Success      bool
	Message      string
	HoldersCount int
	NonZeroCount int
	Truncated    bool
	Chunks       []publish.ChunkResult
	TopHolders   []holders.HolderRecord
	Duration     time.Duration
}

type Notifier interface {
	NotifyRun(ctx context.Context, r Report) error
}

// Nop is used when no bot token is configured.
type Nop struct{}

func (Nop) NotifyRun(context.Context, Report) error { return nil }

// Sender is the part of *tgbotapi.BotAPI the notifier needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Telegram struct {
	sender Sender
	chatID int64
	topN   int
	chart  bool
}

func NewTelegram(token string, chatID int64, topN int, chart bool) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	logging.LogInfo("Telegram bot authorized", zap.String("username", bot.Self.UserName))
	return NewTelegramWithSender(bot, chatID, topN, chart), nil
}

func NewTelegramWithSender(sender Sender, chatID int64, topN int, chart bool) *Telegram {
	if topN <= 0 {
		topN = tg_charts.DefaultTopN
	}
	return &Telegram{sender: sender, chatID: chatID, topN: topN, chart: chart}
}

func (t *Telegram) NotifyRun(ctx context.Context, r Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	text := FormatReport(r, t.topN)
	if t.chart && r.Success && len(r.TopHolders) > 0 {
		png, err := tg_charts.RenderTopHolders(r.Rune+" top holders", r.TopHolders, t.topN)
		if err == nil {
			photo := tgbotapi.NewPhoto(t.chatID, tgbotapi.FileBytes{Name: "holders.png", Bytes: png})
			photo.Caption = text
			photo.ParseMode = tgbotapi.ModeHTML
			if _, err := t.sender.Send(photo); err != nil {
				return fmt.Errorf("failed to send run report photo: %w", err)
			}
			return nil
		}
		logging.LogWarn("Failed to generate holders chart", zap.Error(err))
	}

	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := t.sender.Send(msg); err != nil {
		return fmt.Errorf("failed to send run report: %w", err)
	}
	return nil
}

// FormatReport renders r as Telegram HTML.
func FormatReport(r Report, topN int) string {
	var b strings.Builder

	if r.Success {
		fmt.Fprintf(&b, "✅ <b>%s holders updated</b>\n\n", html.EscapeString(r.Rune))
	} else {
		fmt.Fprintf(&b, "❌ <b>%s holders update failed</b>\n\n", html.EscapeString(r.Rune))
	}

	fmt.Fprintf(&b, "Run: <code>%s</code>\n", html.EscapeString(r.RunID))
	if r.Duration > 0 {
		fmt.Fprintf(&b, "Duration: %s\n", r.Duration.Round(time.Second))
	}

	if r.Success {
		fmt.Fprintf(&b, "Holders fetched: <b>%d</b>\n", r.HoldersCount)
		fmt.Fprintf(&b, "Non-zero holders: <b>%d</b>\n", r.NonZeroCount)
		if r.Truncated {
			b.WriteString("⚠️ Holder list truncated at the configured maximum\n")
		}
	} else if r.Message != "" {
		fmt.Fprintf(&b, "Error: <code>%s</code>\n", html.EscapeString(r.Message))
	}

	if len(r.Chunks) > 0 {
		counts := map[publish.ChunkStatus]int{}
		for _, c := range r.Chunks {
			counts[c.Status]++
		}
		fmt.Fprintf(&b, "Chunks: %d ok, %d skipped, %d failed\n",
			counts[publish.StatusSuccess], counts[publish.StatusSkipped], counts[publish.StatusError])
	}

	if r.Success && len(r.TopHolders) > 0 {
		b.WriteString("\n<b>Top holders</b>\n")
		for i, h := range r.TopHolders[:min(topN, len(r.TopHolders))] {
			fmt.Fprintf(&b, "%d. <code>%s</code> %s\n", i+1, html.EscapeString(h.Address), h.Balance.String())
		}
	}

	return strings.TrimRight(b.String(), "\n")
}
