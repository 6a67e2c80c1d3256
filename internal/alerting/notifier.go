package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notification 封装价格异常告警的上下文。
type Notification struct {
	Token         string
	At            time.Time
	Price         float64
	BaselineMean  float64
	ZScore        float64
	Severity      string
	AdditionalMsg string
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("token", note.Token).
		Str("severity", note.Severity).
		Float64("z_score", note.ZScore).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	price := decimal.NewFromFloat(note.Price)
	mean := decimal.NewFromFloat(note.BaselineMean)
	move := decimal.Zero
	if mean.IsPositive() {
		move = price.Sub(mean).Div(mean).Mul(decimal.NewFromInt(100))
	}

	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[Price Anomaly: %s]\n", note.Token))
	builder.WriteString(fmt.Sprintf("Time: %s UTC\n", note.At.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Price: %s USD\n", formatPrice(price)))
	builder.WriteString(fmt.Sprintf("Baseline: %s USD (%s%%)\n", formatPrice(mean), move.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Z-score: %.2f\n", note.ZScore))
	builder.WriteString(fmt.Sprintf("Severity: %s\n", note.Severity))
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

// formatPrice keeps significant digits for sub-cent tokens.
func formatPrice(p decimal.Decimal) string {
	if p.Abs().LessThan(decimal.NewFromInt(1)) {
		return p.Round(8).String()
	}
	return p.StringFixed(3)
}

var _ Notifier = (*TelegramNotifier)(nil)
