package performance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type Notifier interface {
	Notify(ctx context.Context, evt Event) error
}

func logNotifyError(logger zerolog.Logger, err error, channel string, evt Event) {
	if err == nil {
		return
	}
	logger.Warn().
		Err(err).
		Str("session_id", evt.SessionID).
		Str("event", string(evt.Kind)).
		Str("channel", channel).
		Msg("failed to deliver performance event")
}

// LogNotifier writes events to the log. It is the only sink when no
// performance endpoint is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("notifier", "log").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, evt Event) error {
	n.logger.Info().
		Str("session_id", evt.SessionID).
		Str("event", string(evt.Kind)).
		Str("aggregator_connection_id", evt.AggregatorConnectionID).
		Msg("performance event")
	return nil
}

func (n *LogNotifier) String() string { return "LogNotifier" }

// HTTPNotifier posts events to the performance tracking service at
// {endpoint}/events/{kind}.
type HTTPNotifier struct {
	endpoint string
	client   *http.Client
}

func NewHTTPNotifier(endpoint string, timeout time.Duration) *HTTPNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPNotifier{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

func (n *HTTPNotifier) Notify(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return errors.Wrap(err, "failed to encode performance event")
	}
	url := fmt.Sprintf("%s/events/%s", n.endpoint, evt.Kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to build performance request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "failed to post %s event", evt.Kind)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("performance service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func (n *HTTPNotifier) String() string {
	return fmt.Sprintf("HTTPNotifier(endpoint=%s)", n.endpoint)
}
