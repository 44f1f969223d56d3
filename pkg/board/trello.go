package board

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/learnwatch/learnwatch/internal/utils"
	"github.com/learnwatch/learnwatch/pkg/errkind"
	"github.com/learnwatch/learnwatch/pkg/whttp"
)

// DefaultTrelloAPI is the Trello REST root.
const DefaultTrelloAPI = "https://api.trello.com/1"

// TrelloConfig configures a Trello board client.
type TrelloConfig struct {
	APIURL  string // defaults to DefaultTrelloAPI
	Key     string
	Token   string
	BoardID string
	// LabelID, when set, is attached to created cards and restricts matching
	// to cards carrying it.
	LabelID string
	Log     logrus.FieldLogger
	Now     func() time.Time
}

// Trello implements Board over the Trello REST API.
type Trello struct {
	cfg    TrelloConfig
	client *retryablehttp.Client
	log    logrus.FieldLogger

	mu    sync.Mutex
	lists map[string]string // list name -> id
}

var _ Board = (*Trello)(nil)

// NewTrello builds a client for cfg.BoardID.
func NewTrello(cfg TrelloConfig, client *retryablehttp.Client) *Trello {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultTrelloAPI
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Trello{cfg: cfg, client: client, log: utils.OrNop(cfg.Log).WithField("board", "trello")}
}

type trelloCard struct {
	id          string
	due         time.Time
	dueComplete bool
}

func (t *Trello) UpsertCard(ctx context.Context, card Card) error {
	listID, err := t.listID(ctx, card.List)
	if err != nil {
		return err
	}

	existing, found, err := t.findCard(ctx, listID, card.Title)
	if err != nil {
		return err
	}

	if !found {
		if card.Completed || !card.Due.After(t.cfg.Now()) {
			t.log.WithFields(logrus.Fields{"list": card.List, "card": card.Title}).Debug("Skipping card for finished assignment")
			return nil
		}
		t.log.WithFields(logrus.Fields{"list": card.List, "card": card.Title}).Info("Adding card")
		params := url.Values{}
		params.Set("idList", listID)
		params.Set("name", card.Title)
		params.Set("due", card.Due.UTC().Format(time.RFC3339))
		if t.cfg.LabelID != "" {
			params.Set("idLabels", t.cfg.LabelID)
		}
		_, err := t.do(ctx, http.MethodPost, "/cards", params)
		return err
	}

	params := url.Values{}
	if !card.Due.IsZero() && !existing.due.Equal(card.Due) {
		t.log.WithFields(logrus.Fields{"list": card.List, "card": card.Title}).Info("Updating due date")
		params.Set("due", card.Due.UTC().Format(time.RFC3339))
	}
	if card.Completed && !existing.dueComplete {
		t.log.WithFields(logrus.Fields{"list": card.List, "card": card.Title}).Info("Completing card")
		params.Set("dueComplete", "true")
		params.Set("closed", "true")
	}
	if len(params) == 0 {
		return nil
	}
	_, err = t.do(ctx, http.MethodPut, "/cards/"+url.PathEscape(existing.id), params)
	return err
}

// listID resolves a list name, refreshing the cached board lists once on a miss.
func (t *Trello) listID(ctx context.Context, name string) (string, error) {
	t.mu.Lock()
	id, ok := t.lists[name]
	t.mu.Unlock()
	if ok {
		return id, nil
	}

	params := url.Values{}
	params.Set("filter", "open")
	body, err := t.do(ctx, http.MethodGet, "/boards/"+url.PathEscape(t.cfg.BoardID)+"/lists", params)
	if err != nil {
		return "", err
	}
	lists := make(map[string]string)
	for _, l := range gjson.Parse(body).Array() {
		lists[l.Get("name").String()] = l.Get("id").String()
	}

	t.mu.Lock()
	t.lists = lists
	t.mu.Unlock()

	if id, ok := lists[name]; ok {
		return id, nil
	}
	return "", errkind.E(errkind.Delivery, "trello", fmt.Errorf("%w: %s", ErrListNotFound, name))
}

func (t *Trello) findCard(ctx context.Context, listID, title string) (trelloCard, bool, error) {
	body, err := t.do(ctx, http.MethodGet, "/lists/"+url.PathEscape(listID)+"/cards", nil)
	if err != nil {
		return trelloCard{}, false, err
	}
	for _, c := range gjson.Parse(body).Array() {
		if c.Get("name").String() != title {
			continue
		}
		if t.cfg.LabelID != "" && !hasLabel(c, t.cfg.LabelID) {
			continue
		}
		tc := trelloCard{id: c.Get("id").String(), dueComplete: c.Get("dueComplete").Bool()}
		if due := c.Get("due").String(); due != "" {
			tc.due, _ = time.Parse(time.RFC3339, due)
		}
		return tc, true, nil
	}
	return trelloCard{}, false, nil
}

func hasLabel(card gjson.Result, labelID string) bool {
	for _, id := range card.Get("idLabels").Array() {
		if id.String() == labelID {
			return true
		}
	}
	return false
}

func (t *Trello) do(ctx context.Context, method, path string, params url.Values) (string, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("key", t.cfg.Key)
	params.Set("token", t.cfg.Token)

	res, err := whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{
		Method:  method,
		URL:     t.cfg.APIURL + path + "?" + params.Encode(),
		Headers: []whttp.WHTTPHeader{{Name: "Accept", Value: "application/json"}},
	}, t.client)
	if err != nil {
		return "", errkind.E(errkind.Delivery, "trello", err)
	}
	if !res.OK() {
		return "", errkind.E(errkind.Delivery, "trello", fmt.Errorf("%s %s: status %d: %s", method, path, res.StatusCode, strings.TrimSpace(res.BodyString)))
	}
	return res.BodyString, nil
}
