package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/learnwatch/learnwatch/pkg/errkind"
	"github.com/learnwatch/learnwatch/pkg/whttp"
)

// DefaultTelegramAPI is the public Bot API server.
const DefaultTelegramAPI = "api.telegram.org"

// Telegram posts messages to one chat through the Bot API.
type Telegram struct {
	endpoint string
	chatID   string
	client   *retryablehttp.Client
}

var _ Sink = (*Telegram)(nil)

// NewTelegram builds a sink for chatID. apiServer is a host name or a full base
// URL; empty means DefaultTelegramAPI.
func NewTelegram(apiServer, token, chatID string, client *retryablehttp.Client) *Telegram {
	if apiServer == "" {
		apiServer = DefaultTelegramAPI
	}
	if !strings.Contains(apiServer, "://") {
		apiServer = "https://" + apiServer
	}
	return &Telegram{
		endpoint: strings.TrimRight(apiServer, "/") + "/bot" + token + "/sendMessage",
		chatID:   chatID,
		client:   client,
	}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]string{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return errkind.E(errkind.Delivery, "telegram", err)
	}
	res, err := whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{
		Method:  http.MethodPost,
		URL:     t.endpoint,
		Headers: []whttp.WHTTPHeader{{Name: "Content-Type", Value: "application/json"}},
		Body:    body,
	}, t.client)
	if err != nil {
		return errkind.E(errkind.Delivery, "telegram", err)
	}
	if !res.OK() || !gjson.Get(res.BodyString, "ok").Bool() {
		desc := gjson.Get(res.BodyString, "description").String()
		return errkind.E(errkind.Delivery, "telegram", fmt.Errorf("status %d: %s", res.StatusCode, desc))
	}
	return nil
}
