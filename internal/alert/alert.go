package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/smallbiznis/storefront/internal/observability/tracing"
	"go.uber.org/zap"
)

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is an operator-facing notice that needs manual follow-up.
type Alert struct {
	Title    string
	Message  string
	Severity Severity
	Fields   map[string]string
}

type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

type NoOpNotifier struct{}

func (NoOpNotifier) Notify(context.Context, Alert) error { return nil }

// SlackNotifier posts alerts to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
	log        *zap.Logger
}

func NewSlackNotifier(webhookURL string, client *http.Client, log *zap.Logger) *SlackNotifier {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     tracing.WrapHTTPClient(client),
		log:        log.Named("alert.slack"),
	}
}

type slackMessage struct {
	Text string `json:"text"`
}

func (n *SlackNotifier) Notify(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(slackMessage{Text: format(alert)})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post slack alert: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("post slack alert: unexpected status %d", resp.StatusCode)
	}
	n.log.Info("alert sent", zap.String("title", alert.Title), zap.String("severity", string(alert.Severity)))
	return nil
}

func format(alert Alert) string {
	severity := alert.Severity
	if severity == "" {
		severity = SeverityWarning
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] *%s*\n%s", strings.ToUpper(string(severity)), alert.Title, alert.Message)

	keys := make([]string, 0, len(alert.Fields))
	for k := range alert.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n• %s: `%s`", k, alert.Fields[k])
	}
	return b.String()
}
