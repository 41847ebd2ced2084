package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/mirrorlabs/insider-mirror/internal/config"
	"github.com/mirrorlabs/insider-mirror/internal/logger"
)

// Notifier pushes trade events to a Telegram chat. Disabled notifiers are
// no-ops. Sends are fire-and-forget so callers never block on Telegram.
type Notifier struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	enabled bool
	logger  *logger.Logger
}

func NewNotifier(cfg *config.Config, log *logger.Logger) *Notifier {
	if !cfg.Telegram.Enabled {
		return &Notifier{enabled: false, logger: log}
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		log.Error("failed to create telegram bot", "error", err)
		return &Notifier{enabled: false, logger: log}
	}

	log.Info("telegram bot connected", "username", bot.Self.UserName)

	return &Notifier{
		bot:     bot,
		chatID:  cfg.Telegram.ChatID,
		enabled: true,
		logger:  log,
	}
}

func (n *Notifier) NotifyExecution(side, symbol string, quantity int64, price, pnl float64) {
	var msg string
	if side == "BUY" {
		msg = fmt.Sprintf("🟢 *BUY* %s\nShares: %d\nPrice: $%.2f", symbol, quantity, price)
	} else {
		emoji := "🔴"
		if pnl > 0 {
			emoji = "💰"
		}
		msg = fmt.Sprintf("%s *SELL* %s\nShares: %d\nPrice: $%.2f\nP&L: $%.2f",
			emoji, symbol, quantity, price, pnl)
	}
	n.send(msg)
}

func (n *Notifier) NotifyDenial(symbol string, quantity int64, reason string) {
	n.send(fmt.Sprintf("⛔ *Denied* %s\nShares: %d\nReason: %s", symbol, quantity, reason))
}

func (n *Notifier) NotifyHalt(drawdown float64) {
	n.send(fmt.Sprintf("🚨 *Trading halted*\nDaily drawdown %.2f%% breached the limit. No further trades today.", drawdown*100))
}

func (n *Notifier) NotifyError(context string, err error) {
	n.send(fmt.Sprintf("⚠️ *Error* [%s]\n%v", context, err))
}

func (n *Notifier) NotifyStatus(message string) {
	n.send(message)
}

func (n *Notifier) send(text string) {
	if !n.enabled {
		return
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	go func() {
		if _, err := n.bot.Send(msg); err != nil {
			n.logger.Error("send telegram message", "error", err)
		}
	}()
}
