// ABOUTME: Entry point for docforge-gateway
// ABOUTME: Runs the generation server and the command-line client for its API

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/docforge-gateway/internal/config"
	"github.com/2389/docforge-gateway/internal/gateway"
	"github.com/2389/docforge-gateway/internal/telemetry"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
     _             __                                 _
  __| | ___   ___ / _| ___  _ __ __ _  ___        __ _| |_ _____      ____ _ _   _
 / _' |/ _ \ / __| |_ / _ \| '__/ _' |/ _ \_____ / _' | __/ _ \ \ /\ / / _' | | | |
| (_| | (_) | (__|  _| (_) | | | (_| |  __/_____| (_| | ||  __/\ V  V / (_| | |_| |
 \__,_|\___/ \___|_|  \___/|_|  \__, |\___|      \__, |\__\___| \_/\_/ \__,_|\__, |
                                |___/            |___/                      |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: DOCFORGE_CONFIG env var > XDG_CONFIG_HOME/docforge/gateway.yaml > ~/.config/docforge/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("DOCFORGE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "docforge", "gateway.yaml")
}

// getDataPath returns the path to the docforge data directory.
// Priority: XDG_DATA_HOME/docforge > ~/.local/share/docforge
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "docforge")
}

func printUsage() {
	yellow := color.New(color.FgYellow)

	fmt.Println("Usage: docforge-gateway <command> [args]")
	fmt.Println()
	yellow.Println("Server:")
	fmt.Println("  serve                                  Start the gateway server")
	fmt.Println("  init                                   Create a new config file interactively")
	fmt.Println()
	yellow.Println("Client:")
	fmt.Println("  health                                 Check gateway health and readiness")
	fmt.Println("  diagnostics                            Show backend reachability and counts")
	fmt.Println("  types                                  List document types and their sections")
	fmt.Println("  protocols [list]                       List registered protocols")
	fmt.Println("  protocols add --acronym A [--title T] [--file F]")
	fmt.Println("  protocols show <id>                    Show a protocol and its sessions")
	fmt.Println("  protocols ingest <id> --file F         Add protocol text")
	fmt.Println("  protocols find <collection>            Look up a protocol by collection name")
	fmt.Println("  protocols delete <id>                  Delete a protocol and its collection")
	fmt.Println("  generate --protocol ID [--type icf] [--section KEY]... [--session ID]")
	fmt.Println("  regenerate <session-id> [--section KEY]...")
	fmt.Println("  session <id>                           Show section statuses")
	fmt.Println("  approve <session-id> <section>         Approve a reviewed section")
	fmt.Println("  export <session-id> [--format markdown|html] [--out F]")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  DOCFORGE_CONFIG      Config file path")
	fmt.Println("  DOCFORGE_URL         Gateway URL for client commands (default: from config http_addr)")
	fmt.Println("  DOCFORGE_DB_PATH     Overrides database.path")
	fmt.Println()
}

func main() {
	// .env is optional; values it sets feed ${VAR} expansion in the config
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "diagnostics":
		err = runDiagnostics(ctx)
	case "types":
		err = runTypes(ctx)
	case "protocols":
		err = runProtocols(ctx, args)
	case "generate":
		err = runGenerate(ctx, args)
	case "regenerate":
		err = runRegenerate(ctx, args)
	case "session":
		err = runSession(ctx, args)
	case "approve":
		err = runApprove(ctx, args)
	case "export":
		err = runExport(ctx, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, closeLog := setupLogger(cfg.Logging)
	defer func() { _ = closeLog() }()

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s (health)\n", cfg.Server.GRPCAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Vectors:   %s\n", cfg.Retrieval.Backend)
	names := make([]string, len(cfg.Providers))
	for i, p := range cfg.Providers {
		names[i] = p.Name
	}
	green.Print("    ▶ ")
	fmt.Printf("Providers: %s\n", strings.Join(names, " → "))
	if cfg.Events.NATSURL != "" {
		green.Print("    ▶ ")
		fmt.Printf("Events:    %s ", cfg.Events.NATSURL)
		gray.Printf("(%s.>)\n", cfg.Events.SubjectPrefix)
	}
	fmt.Println()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing, version, logger)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("flushing traces", "error", err)
		}
	}()

	logger.Info("starting docforge-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"providers", len(cfg.Providers),
	)

	svc, err := gateway.BuildServices(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("building services: %w", err)
	}

	gw, err := gateway.New(cfg, svc, logger)
	if err != nil {
		_ = svc.Close()
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("docforge-gateway configuration setup")
	fmt.Println("====================================")
	fmt.Println()

	defaultDbPath := filepath.Join(getDataPath(), "gateway.db")

	outputFile := prompt(reader, "Config file path", getConfigPath())
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := strings.ToLower(prompt(reader, "File exists. Overwrite?", "no"))
		if overwrite != "yes" && overwrite != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checking config file: %w", err)
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "127.0.0.1:8090")
	grpcAddr := prompt(reader, "gRPC health address (empty to disable)", "")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- Retrieval Configuration ---")
	backend := prompt(reader, "Vector store (memory/qdrant/pgvector)", "memory")
	var backendURL string
	switch backend {
	case "qdrant":
		backendURL = prompt(reader, "Qdrant URL", "http://localhost:6333")
	case "pgvector":
		backendURL = prompt(reader, "Postgres DSN", "postgres://localhost:5432/docforge")
	}

	fmt.Println("\n--- Provider Configuration ---")
	kind := prompt(reader, "Primary provider (openai/anthropic/vertex/mock)", "mock")
	var model string
	if kind != "mock" {
		model = prompt(reader, "Model", "")
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# docforge-gateway configuration\n")
	cfg.WriteString("# Generated by docforge-gateway init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n", httpAddr)
	if grpcAddr != "" {
		fmt.Fprintf(&cfg, "  grpc_addr: %q\n", grpcAddr)
	}
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	fmt.Fprintf(&cfg, "  path: %q\n\n", dbPath)

	cfg.WriteString("retrieval:\n")
	fmt.Fprintf(&cfg, "  backend: %q\n", backend)
	switch backend {
	case "qdrant":
		fmt.Fprintf(&cfg, "  qdrant:\n    url: %q\n", backendURL)
	case "pgvector":
		fmt.Fprintf(&cfg, "  pgvector:\n    dsn: %q\n", backendURL)
	}
	cfg.WriteString("  top_k: 10\n")
	cfg.WriteString("  min_score: 0.3\n")
	cfg.WriteString("  timeout: \"5s\"\n\n")

	cfg.WriteString("providers:\n")
	fmt.Fprintf(&cfg, "  - name: %q\n", kind)
	fmt.Fprintf(&cfg, "    kind: %q\n", kind)
	switch kind {
	case "openai":
		fmt.Fprintf(&cfg, "    model: %q\n    api_key: \"${OPENAI_API_KEY}\"\n", model)
	case "anthropic":
		fmt.Fprintf(&cfg, "    model: %q\n    api_key: \"${ANTHROPIC_API_KEY}\"\n", model)
	case "vertex":
		fmt.Fprintf(&cfg, "    model: %q\n    project: \"${GOOGLE_CLOUD_PROJECT}\"\n", model)
	}
	cfg.WriteString("\n")

	cfg.WriteString("retry:\n")
	cfg.WriteString("  max_attempts: 3\n")
	cfg.WriteString("  initial_backoff: \"500ms\"\n")
	cfg.WriteString("  max_backoff: \"8s\"\n\n")

	cfg.WriteString("generation:\n")
	cfg.WriteString("  max_concurrency: 4\n")
	cfg.WriteString("  section_timeout: \"3m\"\n\n")

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", logLevel)
	fmt.Fprintf(&cfg, "  format: %q\n", logFormat)

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  docforge-gateway serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
