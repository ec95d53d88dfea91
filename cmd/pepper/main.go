package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"pepper/internal/bot"
	"pepper/internal/config"
	"pepper/internal/logger"
)

var (
	configPath string
	pageHost   string
	logLevel   string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "pepper",
	Short: "Terminal client for the Pepper conversational agent",
	Long: `pepper talks to the dialogue backend from a terminal.

  chat      interactive chat with optional speech input
  listen    transcribe one utterance and optionally send it
  annotate  label dependency relations for the parser corpus`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath == "" {
			configPath = os.Getenv("PEPPER_CONFIG")
		}
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
		level := cfg.Log.Level
		if logLevel != "" {
			level = logLevel
		}
		logger.Init(logger.Options{Environment: cfg.BasicConfig.Environment, Level: level, Output: logOutput()})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json (default $PEPPER_CONFIG or ./config.json)")
	rootCmd.PersistentFlags().StringVar(&pageHost, "host", "localhost", "host serving the bot when no bot host is configured")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(chatCmd, listenCmd, annotateCmd)
}

// logOutput keeps log lines off the terminal while a full-screen view runs.
func logOutput() *os.File {
	path := os.Getenv("PEPPER_LOG_FILE")
	if path == "" {
		path = "pepper.log"
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return os.Stderr
	}
	return f
}

func newBotClient() *bot.Client {
	var hc *http.Client
	if cfg.Bot.TimeoutSeconds > 0 {
		hc = &http.Client{Timeout: time.Duration(cfg.Bot.TimeoutSeconds) * time.Second}
	}
	return bot.NewClient(bot.Options{
		BaseURL:       bot.ResolveBaseURL(cfg.Bot.Host, pageHost, cfg.Bot.PathPrefix),
		Sender:        cfg.Bot.Sender,
		Conversation:  cfg.Bot.Conversation,
		FallbackReply: cfg.Bot.FallbackReply,
		HTTPClient:    hc,
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
