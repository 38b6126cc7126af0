package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"codechat/internal/action"
	"codechat/internal/chat"
	"codechat/internal/config"
	"codechat/internal/executor"
	"codechat/internal/logging"
	"codechat/internal/provider"
	"codechat/internal/rag"
	"codechat/internal/server"
	"codechat/internal/stream"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose   bool
	workspace string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "codechat",
	Short: "codechat - streaming workspace chat assistant",
	Long: `codechat streams replies from a coding assistant and turns the directive
tags embedded in them into reviewable workspace actions: file edits, shell
commands, package installs, workflow and deployment configuration.

Run "codechat serve" to start the chat server, then "codechat send" to hold
a conversation against it.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapConfig := zap.NewProductionConfig()
		if verbose {
			zapConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapConfig.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		// Category file logging under .codechat/logs/, gated by the
		// workspace config's logging block.
		if err := logging.Initialize(workspace); err != nil {
			logger.Warn("file logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

// initCmd writes a default workspace config
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default .codechat/config.yaml to the workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.Path(workspace)
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists at %s", path)
		}
		if err := config.Default(workspace).Save(workspace); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

// serveCmd runs the chat server
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the streaming chat server",
	Long: `Starts the HTTP server exposing POST /api/chat (server-sent events) and
the session/message endpoints. If retrieval is enabled in the config, the
workspace is indexed at startup so replies can cite sources.`,
	RunE: runServe,
}

// sendCmd runs one chat turn against a running server
var sendCmd = &cobra.Command{
	Use:   "send [message]",
	Short: "Send a message and stream the reply",
	Long: `Sends one chat message to the server and streams the reply to stdout.
Directives detected in the reply are classified against the auto-apply
policy: eligible actions run immediately, the rest are queued and listed.
With --apply the queued actions are executed after the turn completes.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

// sessionsCmd lists stored sessions
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored chat sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(workspace)
		if err != nil {
			return err
		}
		store, err := chat.NewStore(cfg.Storage.DatabasePath)
		if err != nil {
			return err
		}
		defer store.Close()

		sessions, err := store.ListSessions()
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions yet.")
			return nil
		}
		for _, s := range sessions {
			fmt.Printf("%s  %s  (updated %s)\n", s.ID, s.Title, s.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var (
	sendSessionID string
	sendFiles     []string
	applyPending  bool
)

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	logging.Boot("codechat serve starting workspace=%s addr=%s", workspace, cfg.Server.Addr)

	store, err := chat.NewStore(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	llm := provider.NewOpenAIClient(provider.OpenAIConfig{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.ParseTimeout(),
	})

	var retriever *rag.Retriever
	if cfg.RAG.Enabled && cfg.RAG.APIKey != "" {
		engine, err := rag.NewGenAIEngine(ctx, cfg.RAG.APIKey, cfg.RAG.Model)
		if err != nil {
			return fmt.Errorf("failed to create embedding engine: %w", err)
		}
		retriever, err = rag.NewRetriever(engine, cfg.RAG.TopK)
		if err != nil {
			return err
		}
		docs, err := collectDocuments(workspace)
		if err != nil {
			return fmt.Errorf("failed to scan workspace: %w", err)
		}
		if err := retriever.Index(ctx, docs); err != nil {
			logger.Warn("workspace indexing failed, continuing without retrieval", zap.Error(err))
			retriever = nil
		} else {
			logger.Info("workspace indexed", zap.Int("documents", len(docs)))
		}
	}

	srv, err := server.New(server.Config{
		Addr:      cfg.Server.Addr,
		Store:     store,
		LLM:       llm,
		Retriever: retriever,
	})
	if err != nil {
		return err
	}

	logger.Info("server starting",
		zap.String("addr", cfg.Server.Addr),
		zap.String("model", llm.Model()),
		zap.Bool("retrieval", retriever != nil))
	return srv.Run(ctx)
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}

	store, err := chat.NewStore(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	// Settings are re-read on every dispatch so a config edit (auto-apply
	// toggle) takes effect mid-stream.
	var settingsMu sync.Mutex
	settings := cfg.Settings
	currentSettings := func() action.Settings {
		settingsMu.Lock()
		defer settingsMu.Unlock()
		return settings
	}
	stopWatching, err := watchSettings(workspace, func(c *config.Config) {
		settingsMu.Lock()
		settings = c.Settings
		settingsMu.Unlock()
	})
	if err != nil {
		logger.Warn("settings hot-reload unavailable", zap.Error(err))
	} else {
		defer stopWatching()
	}

	notifier := executor.NewWriterNotifier(os.Stdout)
	shell := executor.NewShellRunner(workspace)
	execs := action.ExecutorSet{
		Files:       executor.NewFileEditor(workspace),
		Shell:       shell,
		Packages:    executor.NewPackageManager(shell),
		Workflows:   executor.NewConfigStore(workspace),
		Deployments: executor.NewConfigStore(workspace),
	}
	queue := action.NewQueue()
	classifier, err := action.NewClassifier(execs, queue, notifier, currentSettings)
	if err != nil {
		return err
	}

	files, err := resolveMentionedFiles(sendFiles)
	if err != nil {
		return err
	}

	ctrl, err := stream.NewController(stream.Config{
		Store:      store,
		Transport:  stream.NewHTTPTransport("http://"+cfg.Server.Addr, cfg.LLM.ParseTimeout()),
		Dispatcher: classifier,
		OnDelta: func(id, delta string) {
			fmt.Print(delta)
		},
	})
	if err != nil {
		return err
	}

	// Interrupt cancels the turn; partial content is kept.
	go func() {
		<-ctx.Done()
		ctrl.Cancel()
	}()

	msg, err := ctrl.Send(context.Background(), stream.Request{
		SessionID: sendSessionID,
		Message:   strings.Join(args, " "),
		Files:     files,
	})
	fmt.Println()
	if err != nil {
		return err
	}
	logger.Info("turn finished",
		zap.String("state", string(ctrl.State())),
		zap.String("session", msg.SessionID))

	pending := queue.Pending()
	if len(pending) == 0 {
		return nil
	}
	if !applyPending {
		fmt.Printf("\n%d pending action(s):\n", len(pending))
		for _, item := range pending {
			fmt.Printf("  [%s] %s\n", item.Action.Kind(), item.Action.Label())
		}
		fmt.Println("Re-run with --apply to execute them.")
		return nil
	}

	runner, err := action.NewRunner(execs, notifier, nil)
	if err != nil {
		return err
	}
	summary, err := runner.Run(context.Background(), pending)
	if err != nil {
		return err
	}
	fmt.Printf("\nBatch finished: %d completed, %d failed of %d\n",
		summary.Completed, summary.Failed, summary.Total)
	return nil
}

// watchSettings starts a config watcher and returns its stop function.
func watchSettings(workspace string, onReload func(*config.Config)) (func(), error) {
	watcher, err := config.NewWatcher(workspace, onReload)
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Start(); err != nil {
		return nil, fmt.Errorf("failed to watch config: %w", err)
	}
	return watcher.Stop, nil
}

// resolveMentionedFiles reads --file arguments into prompt attachments.
func resolveMentionedFiles(paths []string) ([]chat.MentionedFile, error) {
	var files []chat.MentionedFile
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		files = append(files, chat.MentionedFile{
			Name:     filepath.Base(path),
			Content:  string(content),
			Language: languageForExt(filepath.Ext(path)),
		})
	}
	return files, nil
}

var extLanguages = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".rb":   "ruby",
	".rs":   "rust",
	".sh":   "bash",
	".sql":  "sql",
	".yaml": "yaml",
	".yml":  "yaml",
	".json": "json",
	".md":   "markdown",
	".html": "html",
	".css":  "css",
}

func languageForExt(ext string) string {
	if lang, ok := extLanguages[strings.ToLower(ext)]; ok {
		return lang
	}
	return "text"
}

const (
	maxIndexedFiles    = 200
	maxIndexedFileSize = 32 * 1024
)

var skippedDirs = map[string]bool{
	".git":         true,
	".codechat":    true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
}

// collectDocuments gathers indexable source files from the workspace.
func collectDocuments(root string) ([]rag.Document, error) {
	var docs []rag.Document
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if len(docs) >= maxIndexedFiles {
			return filepath.SkipAll
		}
		if _, ok := extLanguages[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > maxIndexedFileSize {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		docs = append(docs, rag.Document{
			ID:      fmt.Sprintf("ws-%d", len(docs)+1),
			Path:    filepath.ToSlash(rel),
			Content: string(content),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "Workspace directory")

	sendCmd.Flags().StringVarP(&sendSessionID, "session", "s", "", "Continue an existing session")
	sendCmd.Flags().StringSliceVarP(&sendFiles, "file", "f", nil, "Attach a workspace file to the message")
	sendCmd.Flags().BoolVar(&applyPending, "apply", false, "Execute queued actions after the turn")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
