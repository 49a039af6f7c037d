package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/fitreg/internal/api"
	"github.com/kalambet/fitreg/internal/config"
	"github.com/kalambet/fitreg/internal/engine"
	"github.com/kalambet/fitreg/internal/extract"
	"github.com/kalambet/fitreg/internal/profile"
	"github.com/kalambet/fitreg/internal/prompt"
	"github.com/kalambet/fitreg/internal/registration"
	"github.com/kalambet/fitreg/internal/storage"
	"github.com/kalambet/fitreg/internal/storage/postgres"
	"github.com/kalambet/fitreg/internal/tracing"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the fitreg server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running fitreg server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show fitreg system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
}

// backingStore is what the server needs from a storage driver.
// Implemented by storage.Store and postgres.Store.
type backingStore interface {
	profile.Store
	registration.Directory
	registration.TurnLog
	api.UserStore
	Ping(ctx context.Context) error
	Close() error
}

func openStore(ctx context.Context, cfg config.StorageConfig) (backingStore, error) {
	if cfg.Driver == config.DriverPostgres {
		pg, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	s, err := storage.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "fitreg.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func parseLogLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "fitreg version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Refuse to start twice on the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("fitreg is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("fitreg is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.InitTracer(config.Service, os.Stderr)
		if err != nil {
			return fmt.Errorf("initializing tracing: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				slog.Warn("flushing traces", "error", err)
			}
		}()
	}

	eng, err := engine.Detect(ctx, engine.DetectConfig{
		Provider:          cfg.LLM.Provider,
		OllamaBaseURL:     cfg.Ollama.BaseURL,
		GeminiAPIKey:      cfg.Gemini.APIKey,
		GeminiBaseURL:     cfg.Gemini.BaseURL,
		OpenRouterAPIKey:  cfg.OpenRouter.APIKey,
		OpenRouterBaseURL: cfg.OpenRouter.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("detecting inference engine: %w", err)
	}
	eng = engine.Instrument(eng)
	if err := engine.EnsureReady(ctx, eng, cfg.LLM.Model, os.Stderr); err != nil {
		return err
	}

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()
	slog.Info("storage ready", "driver", cfg.Storage.Driver)

	prompts, err := prompt.New(cfg.Registration.Locale)
	if err != nil {
		return fmt.Errorf("loading messages: %w", err)
	}
	profiles := profile.NewManager(store)
	extractor := extract.NewExtractor(eng, cfg.LLM.Model, extract.WithTimeout(cfg.LLM.Timeout))
	svc := registration.NewService(registration.NewEngine(extractor, prompts), profiles, store, store)

	deps := api.Deps{Service: svc, Profiles: profiles, Users: store}
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewHandler(deps, apiToken),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "fitreg listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if withMCP {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(deps))
		g.Go(func() error {
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("fitreg is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop fitreg (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to fitreg (PID %d)", pid)
	return nil
}

type statsResponse struct {
	Total  int                  `json:"total"`
	ByStep map[profile.Step]int `json:"by_step"`
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("LLM", "%s (%s)", cfg.LLM.Provider, cfg.LLM.Model)
	if cfg.LLM.Provider == config.ProviderOllama {
		printStatus("Ollama", "%s", ollamaStatus(context.Background(), cfg.Ollama.BaseURL))
	}
	printStatus("Storage", "%s", cfg.Storage.Driver)
	printStatus("Locale", "%s", cfg.Registration.Locale)

	if running {
		if c, err := newAPIClient(); err == nil {
			if r, err := c.get(context.Background(), "/stats"); err == nil {
				var stats statsResponse
				if decodeJSON(r, &stats) == nil {
					printStatus("Users", "%s", stepSummary(stats))
				}
			}
		}
	}

	if cfg.Storage.Driver == config.DriverSQLite {
		printStatus("Data dir", "%s", cfg.Storage.DataDir)
	}
	return nil
}

// ollamaStatus reports the server version at baseURL, or that it is down.
func ollamaStatus(ctx context.Context, baseURL string) string {
	v, err := engine.NewOllamaEngine(baseURL).Version(ctx)
	if err != nil {
		return "not running"
	}
	return fmt.Sprintf("%s running at %s", v, baseURL)
}

// stepSummary renders user counts in dialogue order, e.g.
// "5 total (greeting 1, complete 4)".
func stepSummary(s statsResponse) string {
	var parts []string
	for _, step := range profile.Steps {
		if n := s.ByStep[step]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", step, n))
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%d total", s.Total)
	}
	return fmt.Sprintf("%d total (%s)", s.Total, strings.Join(parts, ", "))
}
