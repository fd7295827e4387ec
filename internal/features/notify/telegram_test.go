package notify

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"rune-holders/internal/features/holders"
	"rune-holders/internal/features/publish"

	sdkmath "cosmossdk.io/math"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.err
}

func successReport() Report {
	var top []holders.HolderRecord
	for i := 0; i < 3; i++ {
		top = append(top, holders.NewHolderRecord(fmt.Sprintf("bc1qholder%d", i), sdkmath.NewInt(int64(300-i*100))))
	}
	return Report{
		RunID:        "run-1",
		Rune:         "WISHY<WASHY>",
		Success:      true,
		HoldersCount: 120,
		NonZeroCount: 65,
		Chunks: []publish.ChunkResult{
			{Key: "a", Status: publish.StatusSuccess, Count: 65},
			{Key: "b", Status: publish.StatusSkipped},
		},
		TopHolders: top,
		Duration:   90 * time.Second,
	}
}

func TestFormatReport_Success(t *testing.T) {
	text := FormatReport(successReport(), 2)
	assert.Contains(t, text, "WISHY&lt;WASHY&gt; holders updated")
	assert.Contains(t, text, "Non-zero holders: <b>65</b>")
	assert.Contains(t, text, "Chunks: 1 ok, 1 skipped, 0 failed")
	assert.Contains(t, text, "1. <code>bc1qholder0</code> 300")
	assert.Contains(t, text, "2. <code>bc1qholder1</code> 200")
	assert.NotContains(t, text, "bc1qholder2")
	assert.Contains(t, text, "Duration: 1m30s")
}

func TestFormatReport_Failure(t *testing.T) {
	text := FormatReport(Report{RunID: "run-2", Rune: "X", Message: "hiro <upstream> down"}, 10)
	assert.Contains(t, text, "holders update failed")
	assert.Contains(t, text, "hiro &lt;upstream&gt; down")
	assert.NotContains(t, text, "Top holders")
}

func TestTelegram_SendsPhotoOnSuccess(t *testing.T) {
	sender := &fakeSender{}
	n := NewTelegramWithSender(sender, 42, 10, true)

	require.NoError(t, n.NotifyRun(context.Background(), successReport()))
	require.Len(t, sender.sent, 1)
	photo, ok := sender.sent[0].(tgbotapi.PhotoConfig)
	require.True(t, ok)
	assert.Equal(t, int64(42), photo.ChatID)
	assert.Equal(t, tgbotapi.ModeHTML, photo.ParseMode)
}

func TestTelegram_SendsTextWithoutChart(t *testing.T) {
	sender := &fakeSender{}
	n := NewTelegramWithSender(sender, 42, 10, false)

	require.NoError(t, n.NotifyRun(context.Background(), successReport()))
	require.Len(t, sender.sent, 1)
	msg, ok := sender.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, tgbotapi.ModeHTML, msg.ParseMode)
	assert.Contains(t, msg.Text, "holders updated")
}

func TestTelegram_SendError(t *testing.T) {
	sender := &fakeSender{err: errors.New("forbidden")}
	n := NewTelegramWithSender(sender, 42, 10, false)
	assert.Error(t, n.NotifyRun(context.Background(), Report{RunID: "r", Rune: "X"}))
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.NotifyRun(context.Background(), Report{}))
}
