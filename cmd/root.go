package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/learnwatch/learnwatch/internal/utils"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var cfgFile string

const (
	LOGO = `	 _                                     _       _     
	| | ___  __ _ _ __ _ ____      ____ _| |_ ___| |__  
	| |/ _ \/ _` + "`" + ` | '__| '_ \ \ /\ / / _` + "`" + ` | __/ __| '_ \ 
	| |  __/ (_| | |  | | | \ V  V / (_| | || (__| | | |
	|_|\___|\__,_|_|  |_| |_|\_/\_/ \__,_|\__\___|_| |_|

`
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "learnwatch",
	Short: "Watches your course platform and tells you what changed.",
	Long: LOGO + `learnwatch polls the course platform for new files, announcements and
assignments, reminds you of approaching deadlines and pushes everything to
Telegram, Kafka or email. Assignments can be mirrored to a Trello board.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.learnwatch.yaml)")

	// Global flags
	rootCmd.PersistentFlags().StringP("proxy", "", "", "HTTP Proxy (Useful for debugging. Example: http://127.0.0.1:8080)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	// load .env if it exists (ignore if it does not)
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Error loading .env: %s\n", err)
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".learnwatch")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("LEARNWATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := home + "/.learnwatch.yaml"
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				fmt.Printf("Error creating config file: %s", err)
			}
		} else {
			fmt.Printf("Error reading config file: %s\n", err)
		}
	}

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	utils.SetLogLevel(levelString)
}

func setDefaults() {
	viper.SetDefault("provider.baseurl", "")
	viper.SetDefault("provider.username", "")
	viper.SetDefault("provider.password", "")
	viper.SetDefault("semesters", []string{})

	viper.SetDefault("poll.interval", 60*time.Second)
	viper.SetDefault("poll.cycletimeout", 120*time.Second)
	viper.SetDefault("poll.logintimeout", 60*time.Second)
	viper.SetDefault("poll.loginretrydelay", 30*time.Second)
	viper.SetDefault("poll.concurrency", 5)
	viper.SetDefault("poll.delivertimeout", 30*time.Second)
	viper.SetDefault("poll.heartbeattimeout", 10*time.Second)
	viper.SetDefault("http.timeout", 30*time.Second)
	viper.SetDefault("diff.recency", 72*time.Hour)

	viper.SetDefault("store.backend", "file")
	viper.SetDefault("store.path", "")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.key", "learnwatch:snapshot")

	viper.SetDefault("telegram.token", "")
	viper.SetDefault("telegram.chat", "")
	viper.SetDefault("telegram.apiserver", "api.telegram.org")
	viper.SetDefault("kafka.brokers", "")
	viper.SetDefault("kafka.topic", "learnwatch.changes")
	viper.SetDefault("sendgrid.apikey", "")
	viper.SetDefault("sendgrid.from", "")
	viper.SetDefault("sendgrid.to", "")
	viper.SetDefault("trello.key", "")
	viper.SetDefault("trello.token", "")
	viper.SetDefault("trello.board", "")
	viper.SetDefault("trello.label", "")

	viper.SetDefault("heartbeat", "")
	viper.SetDefault("notify.alertloginfailure", false)
}
