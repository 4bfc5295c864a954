package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const channelTwilio = "twilio"

// TwilioChannel delivers messages through the Twilio Messages API, addressing
// both ends as WhatsApp numbers.
type TwilioChannel struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	client     *http.Client
}

func NewTwilioChannel(cfg Config) (*TwilioChannel, error) {
	sid := strings.TrimSpace(cfg.AccountSID)
	token := strings.TrimSpace(cfg.AuthToken)
	from := strings.TrimSpace(cfg.FromNumber)
	if sid == "" || token == "" || from == "" {
		return nil, errMissingCredentials
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.twilio.com"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &TwilioChannel{
		baseURL:    baseURL,
		accountSID: sid,
		authToken:  token,
		from:       from,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

func (c *TwilioChannel) Send(ctx context.Context, recipient, body string) error {
	form := url.Values{}
	form.Set("To", whatsappAddress(recipient))
	form.Set("From", whatsappAddress(c.from))
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return &SendError{Channel: channelTwilio, Code: "request", Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	res, err := c.client.Do(req)
	if err != nil {
		code := "network"
		if errors.Is(err, context.DeadlineExceeded) {
			code = "timeout"
		}
		return &SendError{Channel: channelTwilio, Code: code, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return &SendError{
			Channel: channelTwilio,
			Code:    fmt.Sprintf("http_status_%d", res.StatusCode),
			Err:     fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(detail))),
		}
	}
	return nil
}

func whatsappAddress(number string) string {
	number = strings.TrimSpace(number)
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + number
}
