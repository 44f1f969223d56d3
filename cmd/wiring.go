package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/learnwatch/learnwatch/internal/utils"
	"github.com/learnwatch/learnwatch/pkg/board"
	"github.com/learnwatch/learnwatch/pkg/diff"
	"github.com/learnwatch/learnwatch/pkg/dispatch"
	"github.com/learnwatch/learnwatch/pkg/notify"
	"github.com/learnwatch/learnwatch/pkg/polling"
	"github.com/learnwatch/learnwatch/pkg/provider"
	"github.com/learnwatch/learnwatch/pkg/provider/learn"
	"github.com/learnwatch/learnwatch/pkg/storage"
	"github.com/learnwatch/learnwatch/pkg/whttp"
)

// storePath returns the configured store location, or the backend's default
// next to the data file.
func storePath(backend string) (string, error) {
	if p := viper.GetString("store.path"); p != "" {
		return utils.GetAbsStorePath(p)
	}
	def, err := utils.GetAbsStorePath("")
	if err != nil {
		return "", err
	}
	if backend == "sqlite" {
		return filepath.Join(filepath.Dir(def), "learnwatch.sqlite"), nil
	}
	return def, nil
}

// openStore opens the configured snapshot store. The returned path is empty
// for backends that do not live on the local filesystem.
func openStore() (storage.Store, string, error) {
	backend := strings.ToLower(viper.GetString("store.backend"))
	switch backend {
	case "", "file":
		path, err := storePath("file")
		if err != nil {
			return nil, "", err
		}
		return storage.NewFileStore(path), path, nil
	case "sqlite":
		path, err := storePath("sqlite")
		if err != nil {
			return nil, "", err
		}
		db, err := storage.Open(path)
		if err != nil {
			return nil, "", fmt.Errorf("could not open database %s: %w", path, err)
		}
		return db, path, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		})
		return storage.NewRedisStore(rdb, viper.GetString("redis.key")), "", nil
	}
	return nil, "", fmt.Errorf("unknown store backend %q (want file, sqlite or redis)", backend)
}

func newHTTPClient(cmd *cobra.Command) (*retryablehttp.Client, error) {
	proxy, _ := cmd.Flags().GetString("proxy")
	return whttp.NewClient(whttp.ClientOptions{
		Proxy:   proxy,
		Timeout: viper.GetDuration("http.timeout"),
		Log:     utils.Log,
	})
}

// stringList reads a list setting given either as a YAML sequence or as one
// comma separated string (environment variables).
func stringList(key string) []string {
	if s, ok := viper.Get(key).(string); ok {
		return utils.SplitList(s)
	}
	var out []string
	for _, item := range viper.GetStringSlice(key) {
		out = append(out, utils.SplitList(item)...)
	}
	return out
}

// buildSinks returns every sink with complete credentials in the config.
func buildSinks(client *retryablehttp.Client) []notify.Sink {
	var sinks []notify.Sink

	tgToken := viper.GetString("telegram.token")
	tgChat := viper.GetString("telegram.chat")
	if tgToken != "" && tgChat != "" {
		sinks = append(sinks, notify.NewTelegram(viper.GetString("telegram.apiserver"), tgToken, tgChat, client))
	} else {
		utils.Log.Info("Skipping Telegram: token or chat not found in config.")
	}

	brokers := utils.SplitList(viper.GetString("kafka.brokers"))
	if len(brokers) > 0 {
		sinks = append(sinks, notify.NewKafka(brokers, viper.GetString("kafka.topic")))
	} else {
		utils.Log.Debug("Skipping Kafka: no brokers in config.")
	}

	sgKey := viper.GetString("sendgrid.apikey")
	sgFrom := viper.GetString("sendgrid.from")
	sgTo := utils.SplitList(viper.GetString("sendgrid.to"))
	if sgKey != "" && sgFrom != "" && len(sgTo) > 0 {
		sinks = append(sinks, notify.NewSendGrid(sgKey, sgFrom, sgTo))
	} else {
		utils.Log.Debug("Skipping SendGrid: apikey, from or to not found in config.")
	}

	return sinks
}

func buildBoard(client *retryablehttp.Client) board.Board {
	key := viper.GetString("trello.key")
	token := viper.GetString("trello.token")
	boardID := viper.GetString("trello.board")
	if key == "" || token == "" || boardID == "" {
		utils.Log.Debug("Skipping Trello: key, token or board not found in config.")
		return nil
	}
	return board.NewTrello(board.TrelloConfig{
		Key:     key,
		Token:   token,
		BoardID: boardID,
		LabelID: viper.GetString("trello.label"),
		Log:     utils.Log,
	}, client)
}

// closeSinks releases sinks holding connections.
func closeSinks(sinks []notify.Sink) {
	for _, s := range sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				utils.Log.Warnf("Could not close %s sink: %v", s.Name(), err)
			}
		}
	}
}

// buildConfig assembles the controller configuration from viper.
func buildConfig(cmd *cobra.Command, store storage.Store) (polling.Config, []notify.Sink, error) {
	baseURL := viper.GetString("provider.baseurl")
	if baseURL == "" {
		return polling.Config{}, nil, fmt.Errorf("provider.baseurl is not set. Configure it in ~/.learnwatch.yaml")
	}

	client, err := newHTTPClient(cmd)
	if err != nil {
		return polling.Config{}, nil, err
	}

	sinks := buildSinks(client)
	concurrency := viper.GetInt("poll.concurrency")

	cfg := polling.Config{
		Provider: learn.New(baseURL, client),
		Credentials: provider.Credentials{
			Username: viper.GetString("provider.username"),
			Password: viper.GetString("provider.password"),
		},
		Semesters: stringList("semesters"),
		Store:     store,
		Dispatcher: &dispatch.Dispatcher{
			Sinks:       sinks,
			Board:       buildBoard(client),
			Concurrency: concurrency,
			Timeout:     viper.GetDuration("poll.delivertimeout"),
			Log:         utils.Log,
		},
		Differ:            diff.Differ{Recency: viper.GetDuration("diff.recency")},
		Interval:          viper.GetDuration("poll.interval"),
		CycleTimeout:      viper.GetDuration("poll.cycletimeout"),
		LoginTimeout:      viper.GetDuration("poll.logintimeout"),
		LoginRetryDelay:   viper.GetDuration("poll.loginretrydelay"),
		Concurrency:       concurrency,
		HeartbeatURL:      viper.GetString("heartbeat"),
		HeartbeatTimeout:  viper.GetDuration("poll.heartbeattimeout"),
		HTTPClient:        client,
		AlertLoginFailure: viper.GetBool("notify.alertloginfailure"),
		Log:               utils.Log,
	}
	return cfg, sinks, nil
}
