package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/comigor/ollamachat/internal/config"
	"github.com/comigor/ollamachat/internal/history"
	"github.com/comigor/ollamachat/internal/llm"
	"github.com/comigor/ollamachat/internal/logger"
	"github.com/comigor/ollamachat/internal/session"
)

var (
	configPath   string
	envFile      string
	conversation string
	modelFlag    string
	imagePath    string
	outputPath   string
)

var (
	rootCmd = &cobra.Command{
		Use:           "ollamachat",
		Short:         "Chat with models served by Ollama and compatible servers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			if configPath != "" {
				os.Setenv("CONFIG_PATH", configPath)
			}
			return nil
		},
	}

	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat, optionally resuming a conversation",
		Args:  cobra.NoArgs,
		RunE:  runChat, // cmd_chat.go
	}

	askCmd = &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Send one prompt, stream the answer and save the turn",
		Args:  cobra.ExactArgs(1),
		RunE:  runAsk, // cmd_chat.go
	}

	modelsCmd = &cobra.Command{
		Use:   "models",
		Short: "List the models offered by the configured server",
		Args:  cobra.NoArgs,
		RunE:  runModels, // cmd_conversations.go
	}

	conversationsCmd = &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Manage stored conversations",
	}

	listConversationsCmd = &cobra.Command{
		Use:   "list",
		Short: "List stored conversations, newest first",
		Args:  cobra.NoArgs,
		RunE:  runListConversations,
	}

	searchConversationsCmd = &cobra.Command{
		Use:   "search [query]",
		Short: "Search questions and answers of every conversation",
		Args:  cobra.ExactArgs(1),
		RunE:  runSearchConversations,
	}

	deleteConversationCmd = &cobra.Command{
		Use:   "delete [conversation_id]",
		Short: "Delete one conversation",
		Args:  cobra.ExactArgs(1),
		RunE:  runDeleteConversation,
	}

	clearConversationsCmd = &cobra.Command{
		Use:   "clear",
		Short: "Delete every stored conversation",
		Args:  cobra.NoArgs,
		RunE:  runClearConversations,
	}

	exportCmd = &cobra.Command{
		Use:   "export [conversation_id]",
		Short: "Export a conversation as a Markdown transcript",
		Args:  cobra.ExactArgs(1),
		RunE:  runExport,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./config.yaml or $CONFIG_PATH)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the configuration")

	chatCmd.Flags().StringVarP(&conversation, "conversation", "c", "", "conversation id to resume")
	chatCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "model to use (default: last used or configured)")

	askCmd.Flags().StringVarP(&conversation, "conversation", "c", "", "conversation id to append to")
	askCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "model to use")
	askCmd.Flags().StringVarP(&imagePath, "image", "i", "", "image file to attach")

	exportCmd.Flags().StringVarP(&outputPath, "output", "o", "", "write to file instead of stdout")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(conversationsCmd)
	conversationsCmd.AddCommand(listConversationsCmd)
	conversationsCmd.AddCommand(searchConversationsCmd)
	conversationsCmd.AddCommand(deleteConversationCmd)
	conversationsCmd.AddCommand(clearConversationsCmd)
	rootCmd.AddCommand(exportCmd)
}

// app bundles what every command needs.
type app struct {
	cfg    *config.Config
	store  *history.Store
	client llm.Client
}

func loadConfig(onChange func(*config.Config)) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if onChange != nil {
		cfg, err = config.Watch(onChange)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	logger.Configure(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := history.Open(ctx, cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	client, err := llm.NewClient(cfg, cfg.Provider)
	if err != nil {
		store.Close()
		return nil, err
	}
	logger.L.Debug("app ready", "provider", cfg.Provider.DisplayName(), "base_url", cfg.Server.BaseURL, "storage", cfg.Storage.Path)
	return &app{cfg: cfg, store: store, client: client}, nil
}

func (a *app) coordinator(groupID string) *session.Coordinator {
	return session.New(a.client, a.store, session.SettingsFromConfig(a.cfg), groupID)
}

func (a *app) Close() error {
	return a.store.Close()
}

func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(nil)
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), cfg)
}
