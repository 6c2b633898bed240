package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/immo/internal/logging"
	"github.com/example/immo/internal/models"
)

// TelegramService sends operator notifications to a Telegram chat.
type TelegramService struct {
	botToken    string
	adminChatID string
	apiBase     string
	httpClient  *http.Client
}

// NewTelegramService creates a new TelegramService.
func NewTelegramService(botToken, adminChatID string) *TelegramService {
	return &TelegramService{
		botToken:    botToken,
		adminChatID: adminChatID,
		apiBase:     "https://api.telegram.org",
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendMessage sends a message to specified chat.
func (s *TelegramService) SendMessage(ctx context.Context, chatID, text string) error {
	if s.botToken == "" {
		logging.Debug("telegram bot token not configured")
		return nil
	}

	body, err := json.Marshal(telegramMessage{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.apiBase, s.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}
	return nil
}

// SendToAdmin sends a message to the admin chat.
func (s *TelegramService) SendToAdmin(ctx context.Context, text string) error {
	if s.adminChatID == "" {
		return nil
	}
	return s.SendMessage(ctx, s.adminChatID, text)
}

// Notify forwards payment outcomes to the admin chat. Other notice kinds are
// user-only.
func (s *TelegramService) Notify(ctx context.Context, n Notice) {
	var header string
	switch n.Kind {
	case models.NotifyPaymentSuccess:
		header = "✅ PAYMENT RECEIVED"
	case models.NotifyPaymentFailure:
		header = "❌ PAYMENT FAILED"
	case models.NotifyPaymentTimeout:
		header = "⏳ PAYMENT UNCONFIRMED"
	default:
		return
	}

	message := fmt.Sprintf(`<b>%s</b>
<b>Type:</b> %s
<b>Reference:</b> %s
<b>Transaction:</b> %s
<b>Amount:</b> %s
<b>Status:</b> %s
━━━━━━━━━━━━━━━━━━`,
		header,
		n.ReferenceType,
		n.ReferenceID,
		n.TransactionID,
		FormatPrice(n.Amount, "XAF"),
		n.Status,
	)

	if err := s.SendToAdmin(ctx, strings.TrimSpace(message)); err != nil {
		logging.Warn("telegram notification failed",
			zap.String("transaction_id", n.TransactionID),
			zap.Error(err),
		)
	}
}

// FormatPrice formats an amount with thousand separators and currency.
func FormatPrice(amount decimal.Decimal, currency string) string {
	if currency == "" {
		currency = "XAF"
	}
	str := amount.Truncate(0).String()
	negative := strings.HasPrefix(str, "-")
	str = strings.TrimPrefix(str, "-")

	var result strings.Builder
	if negative {
		result.WriteString("-")
	}
	length := len(str)
	for i, digit := range str {
		if i > 0 && (length-i)%3 == 0 {
			result.WriteString(",")
		}
		result.WriteRune(digit)
	}

	return result.String() + " " + currency
}
