package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"workbench/pkg/agent"
	"workbench/pkg/api"
	"workbench/pkg/config"
	"workbench/pkg/engine"
	"workbench/pkg/exec"
	"workbench/pkg/history"
	"workbench/pkg/logx"
	"workbench/pkg/metrics"
	"workbench/pkg/persistence"
	"workbench/pkg/sandbox"
)

const shutdownTimeout = 30 * time.Second

func main() {
	var workDir string
	var port int
	var mockMode bool
	var debugMode bool
	flag.StringVar(&workDir, "workdir", "", "Working directory (default: current directory)")
	flag.IntVar(&port, "port", 0, "HTTP listen port (default: from config)")
	flag.BoolVar(&mockMode, "mock", false, "Use a mock plan proposer instead of the Anthropic API")
	flag.BoolVar(&debugMode, "debug", false, "Enable debug logging")
	flag.Parse()

	if workDir == "" {
		workDir, _ = os.Getwd()
	}
	if debugMode {
		logx.SetDebug(true, nil)
	}
	logger := logx.NewLogger("main")

	if err := config.LoadConfig(workDir); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg, err := config.GetConfig()
	if err != nil {
		log.Fatalf("Failed to read config: %v", err)
	}
	if port == 0 {
		port = cfg.Server.Port
	}

	loadSecrets(workDir, logger)

	dbPath := cfg.Storage.DBPath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(workDir, dbPath)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}
	db, err := persistence.InitializeDatabase(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() { _ = db.Close() }()
	store := persistence.NewStore(db)

	stacks, err := config.LoadStacks(workDir)
	if err != nil {
		log.Fatalf("Failed to load workspace stacks: %v", err)
	}

	var allowlist []string
	if cfg.Engine.AllowlistEnabled {
		allowlist = cfg.Engine.CommandAllowlist
	}
	commandTimeout := time.Duration(cfg.Engine.CommandTimeoutSeconds) * time.Second
	serverTimeout := time.Duration(cfg.Engine.ServerProcessTimeoutSeconds) * time.Second

	executor := exec.NewLocalExec()
	hist := history.NewService(cfg.Engine.MaxUndoDepth)
	sb := sandbox.NewManager(store, executor, sandbox.Options{
		SafeEditMode:          cfg.Engine.SafeEditMode,
		ProtectedPatterns:     cfg.Engine.ProtectedPatterns,
		PromoteOnCheckFailure: cfg.Engine.PromoteOnCheckFailure,
		CommandTimeout:        commandTimeout,
		ServerProcessTimeout:  serverTimeout,
		Allowlist:             allowlist,
	})

	proposer := buildProposer(mockMode, logger)
	recorder := metrics.NewPrometheusRecorder()
	eng := engine.New(sb, executor, proposer, hist, func(workspaceID string) (config.WorkspaceStack, bool) {
		stack, ok := stacks[workspaceID]
		return stack, ok
	}, recorder, engine.Options{
		RepairEnabled:  cfg.Engine.RepairEnabled,
		CommandTimeout: commandTimeout,
		Allowlist:      allowlist,
	})

	password, err := config.GetSecret(config.SecretWebPassword)
	if err != nil || password == "" {
		password = generatePassword()
		logger.Info("Generated API password: %s (user: %s)", password, cfg.Server.BasicAuthUser)
	}

	server := api.NewServer(eng, store, hist, sb, stacks, api.Options{
		AuthUser:     cfg.Server.BasicAuthUser,
		AuthPassword: password,
	})
	if cfg.Metrics.PrometheusURL != "" {
		queries, qerr := metrics.NewQueryService(cfg.Metrics.PrometheusURL)
		if qerr != nil {
			logger.Warn("Prometheus query service unavailable: %v", qerr)
		} else {
			server.SetQueryService(queries)
		}
	}
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening on :%d", port)
		errCh <- httpServer.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received signal %v, shutting down", sig)
	case err := <-errCh:
		log.Fatalf("Server failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}

// loadSecrets decrypts the secrets file when a password is available;
// otherwise secrets come from the environment.
func loadSecrets(workDir string, logger *logx.Logger) {
	if !config.SecretsFileExists(workDir) {
		return
	}
	password := os.Getenv("WORKBENCH_SECRETS_PASSWORD")
	if password == "" {
		logger.Warn("Secrets file present but WORKBENCH_SECRETS_PASSWORD is not set; falling back to environment variables")
		return
	}
	values, err := config.DecryptSecretsFile(workDir, password)
	if err != nil {
		log.Fatalf("Failed to decrypt secrets file: %v", err)
	}
	config.SetSecrets(values)
	logger.Info("Loaded %d secrets", len(values))
}

func buildProposer(mockMode bool, logger *logx.Logger) agent.Proposer {
	if mockMode {
		logger.Info("Running with a mock proposer; /api/apply accepts pre-built plans only")
		return &agent.MockProposer{}
	}
	apiKey, err := config.GetSecret(config.SecretAnthropicAPIKey)
	if err != nil || apiKey == "" {
		logger.Warn("No Anthropic API key configured; self-repair proposals will fail")
		return &agent.MockProposer{}
	}
	return agent.NewClaudeProposer(apiKey, "")
}

func generatePassword() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		log.Fatalf("Failed to generate password: %v", err)
	}
	return hex.EncodeToString(buf)
}
