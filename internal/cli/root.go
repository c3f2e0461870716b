// Package cli: консольный клиент поверх того же движка, что и мост.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/messenger-client/internal/config"
	"github.com/messenger-client/internal/logger"
	"github.com/messenger-client/internal/session"
	"github.com/messenger-client/internal/startup"
	"github.com/messenger-client/internal/storage"
	"github.com/messenger-client/internal/syncer"
)

var version = "dev"

// NewRootCmd собирает дерево команд. Отдельная функция, чтобы тесты
// получали свежее дерево без глобального состояния флагов.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chat",
		Short:         "Command-line client for the chat server",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().BoolP("verbose", "v", false, "log to stderr")

	root.AddCommand(
		newLoginCmd(),
		newLogoutCmd(),
		newWhoamiCmd(),
		newConversationsCmd(),
		newMessagesCmd(),
		newSendCmd(),
		newReadCmd(),
		newOnlineCmd(),
		newWatchCmd(),
	)
	return root
}

// Execute запускается из main.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		logger.Flush()
		os.Exit(1)
	}
	logger.Flush()
}

// env: движок и хранилище на время одной команды.
type env struct {
	cfg    *config.Config
	store  storage.Store
	engine *syncer.Engine
}

func (e *env) Close() {
	e.engine.Close()
	if err := e.store.Close(); err != nil {
		logger.Errorf("cli: close store: %v", err)
	}
}

func openEnv(cmd *cobra.Command) (*env, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger.SetPrefix("cli")
	if verbose {
		logger.SetOutput(cmd.ErrOrStderr())
	} else {
		logger.SetOutput(io.Discard)
	}

	cfg := config.Load()
	if verbose {
		logger.SetLevel(cfg.LogLevel)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()
	store, err := startup.OpenStore(ctx, cfg.Session, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	sess := session.New(store)
	if err := sess.Load(ctx); err != nil {
		logger.Errorf("cli: load session: %v", err)
	}
	engine := syncer.New(syncer.Deps{Config: cfg, Session: sess})
	return &env{cfg: cfg, store: store, engine: engine}, nil
}
