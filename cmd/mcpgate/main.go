// ABOUTME: Entry point for the mcpgate hub server
// ABOUTME: Routes MCP client traffic and manages hub configuration

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/mcpgate/mcpgate/internal/auth"
	"github.com/mcpgate/mcpgate/internal/config"
	"github.com/mcpgate/mcpgate/internal/hub"
	"github.com/mcpgate/mcpgate/internal/settings"
	"github.com/mcpgate/mcpgate/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _ __ ___   ___ _ __   __ _  __ _| |_ ___
| '_ ' _ \ / __| '_ \ / _' |/ _' | __/ _ \
| | | | | | (__| |_) | (_| | (_| | ||  __/
|_| |_| |_|\___| .__/ \__, |\__,_|\__\___|
               |_|    |___/
`

// getConfigPath returns the path to the hub config file.
// Priority: MCPGATE_CONFIG env var > XDG_CONFIG_HOME/mcpgate/config.yaml > ~/.config/mcpgate/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("MCPGATE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "mcpgate", "config.yaml")
}

// getDataPath returns the path to the mcpgate data directory.
// Priority: XDG_DATA_HOME/mcpgate > ~/.local/share/mcpgate
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "mcpgate")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: mcpgate <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                   Start the hub server")
		fmt.Println("  init                    Create a new config file interactively")
		fmt.Println("  bootstrap --user NAME   Create config, admin user, and admin API key")
		fmt.Println("  apikey create|list|revoke   Manage API keys")
		fmt.Println("  health                  Check hub health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "bootstrap":
		err = runBootstrap(ctx)
	case "apikey":
		err = runAPIKey(ctx)
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	if cfg.Upstream.URL != "" {
		green.Print("    ▶ ")
		fmt.Printf("Upstream: %s\n", cfg.Upstream.URL)
	}

	// Tailscale status
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting mcpgate",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	// Create and run hub
	h, err := hub.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating hub: %w", err)
	}

	return h.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Make HTTP request to health endpoint with context
	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// parseUserFlag extracts --user/-u from args, supporting both
// "--user value" and "--user=value" formats.
func parseUserFlag(args []string) (string, error) {
	var username string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--user" || arg == "-u":
			if i+1 >= len(args) {
				return "", fmt.Errorf("--user requires a value")
			}
			username = args[i+1]
			i++
		case strings.HasPrefix(arg, "--user="):
			username = strings.TrimPrefix(arg, "--user=")
		case strings.HasPrefix(arg, "-u="):
			username = strings.TrimPrefix(arg, "-u=")
		case strings.HasPrefix(arg, "-"):
			return "", fmt.Errorf("unknown flag: %s", arg)
		default:
			return "", fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	username = strings.TrimSpace(username)
	if username == "" {
		return "", fmt.Errorf("--user flag is required")
	}
	if len(username) > 100 {
		return "", fmt.Errorf("username exceeds maximum length of 100 characters")
	}
	return username, nil
}

// randomSecret returns a base64-encoded 256-bit random value.
func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// runBootstrap performs first-time setup of the hub:
// 1. Creates config file with random JWT secret (if not exists)
// 2. Creates database with the admin user and a default group
// 3. Creates an admin API key
//
// This is a one-command setup: mcpgate bootstrap --user admin
func runBootstrap(ctx context.Context) error {
	username, err := parseUserFlag(os.Args[2:])
	if err != nil {
		return err
	}

	configPath := getConfigPath()
	dataPath := getDataPath()
	dbPath := filepath.Join(dataPath, "hub.db")

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	// Check if config exists, create if not
	var cfg *config.Config

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		jwtSecret, err := randomSecret()
		if err != nil {
			return fmt.Errorf("generating JWT secret: %w", err)
		}

		// Create config directory
		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		// Create data directory
		if err := os.MkdirAll(dataPath, 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}

		// Write config file
		configContent := fmt.Sprintf(`# mcpgate configuration
# Generated by mcpgate bootstrap

server:
  http_addr: "localhost:8080"

endpoint:
  protocol: "http"
  domain: "localhost"
  port: 8080

database:
  path: "%s"

auth:
  jwt_secret: "%s"

logging:
  level: "info"
  format: "text"
`, dbPath, jwtSecret)

		if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}

		green.Printf("  ✓ Created config: %s\n", configPath)

		// Load the config we just created
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	} else {
		// Config exists, load it
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("jwt_secret not configured in %s (required for bootstrap)", configPath)
		}

		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	logger := slog.New(slog.DiscardHandler)
	backend, err := store.NewSQLiteStore(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer backend.Close()

	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	// Refuse to bootstrap twice
	doc, err := backend.LoadDocument(ctx)
	if err != nil {
		return fmt.Errorf("reading settings: %w", err)
	}
	if len(doc.Users) > 0 {
		return fmt.Errorf("bootstrap already complete: %d user(s) exist", len(doc.Users))
	}

	password, err := randomSecret()
	if err != nil {
		return fmt.Errorf("generating password: %w", err)
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	doc.Users = append(doc.Users, settings.User{
		Username:     username,
		PasswordHash: passwordHash,
		IsAdmin:      true,
	})
	doc.Groups = append(doc.Groups, settings.Group{
		ID:      uuid.New().String(),
		Name:    "default",
		Members: []settings.GroupMember{},
	})
	if err := backend.SaveDocument(ctx, doc); err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}

	green.Printf("  ✓ Created admin user: %s\n", username)

	// Create an admin API key through the auth service
	settingsStore := settings.NewStore(backend, logger)
	authSvc := auth.NewService(settingsStore, backend, nil, logger)
	rawKey, err := authSvc.CreateAPIKey(ctx, "bootstrap", username, store.KeyPermissions{Admin: true})
	if err != nil {
		return fmt.Errorf("creating api key: %w", err)
	}

	// Print results
	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	cyan.Println("  Admin Account")
	cyan.Println("  -------------")
	fmt.Printf("  Username: %s\n", username)
	fmt.Printf("  Password: %s\n", password)
	fmt.Printf("  API Key:  %s\n", rawKey)
	fmt.Println()
	yellow.Println("  The password and API key are shown only once. Store them now.")
	fmt.Println()
	yellow.Println("  Ready to go:")
	fmt.Println("    mcpgate serve     # start the hub")
	fmt.Println("    mcpgate health    # verify it is up")
	fmt.Println()

	return nil
}

// runAPIKey manages API keys directly against the hub database:
//
//	mcpgate apikey create --user alice
//	mcpgate apikey list [--user alice]
//	mcpgate apikey revoke <hash>
func runAPIKey(ctx context.Context) error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: mcpgate apikey <create|list|revoke> ...")
	}
	action := os.Args[2]
	args := os.Args[3:]

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.DiscardHandler)
	backend, err := store.NewSQLiteStore(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer backend.Close()

	switch action {
	case "create":
		username, err := parseUserFlag(args)
		if err != nil {
			return err
		}
		doc, err := backend.LoadDocument(ctx)
		if err != nil {
			return fmt.Errorf("reading settings: %w", err)
		}
		user := doc.FindUser(username)
		if user == nil {
			return fmt.Errorf("user %q not found", username)
		}

		settingsStore := settings.NewStore(backend, logger)
		authSvc := auth.NewService(settingsStore, backend, nil, logger)
		name := "cli-" + time.Now().UTC().Format("20060102-150405")
		rawKey, err := authSvc.CreateAPIKey(ctx, name, username, store.KeyPermissions{Admin: user.IsAdmin})
		if err != nil {
			return fmt.Errorf("creating api key: %w", err)
		}
		fmt.Printf("API key for %s (shown only once):\n\n  %s\n", username, rawKey)
		return nil

	case "list":
		var owner string
		if len(args) > 0 {
			owner, err = parseUserFlag(args)
			if err != nil {
				return err
			}
		}
		keys, err := backend.ListAPIKeys(ctx, owner)
		if err != nil {
			return fmt.Errorf("listing api keys: %w", err)
		}
		if len(keys) == 0 {
			fmt.Println("no api keys")
			return nil
		}
		for _, k := range keys {
			state := "active"
			if !k.Active {
				state = "revoked"
			}
			fmt.Printf("%s  %-10s %-20s %s\n", k.KeyHash, state, k.Owner, k.Name)
		}
		return nil

	case "revoke":
		if len(args) != 1 {
			return fmt.Errorf("usage: mcpgate apikey revoke <hash>")
		}
		revoked, err := backend.RevokeAPIKey(ctx, args[0])
		if err != nil {
			return fmt.Errorf("revoking api key: %w", err)
		}
		if !revoked {
			return fmt.Errorf("no active key with hash %s", args[0])
		}
		fmt.Println("revoked")
		return nil

	default:
		return fmt.Errorf("unknown apikey action: %s", action)
	}
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("mcpgate configuration setup")
	fmt.Println("===========================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "hub.db")

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Server configuration
	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")

	// External endpoint
	fmt.Println("\n--- External Endpoint ---")
	protocol := prompt(reader, "Protocol (http/https)", "http")
	domain := prompt(reader, "Domain", "localhost")
	port := prompt(reader, "Port", "8080")

	// Upstream
	fmt.Println("\n--- Upstream Application ---")
	upstreamURL := prompt(reader, "Upstream URL (leave empty for none)", "")

	// Database
	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	// Tailscale
	fmt.Println("\n--- Tailscale Configuration ---")
	enableTailscale := prompt(reader, "Enable Tailscale?", "no")
	tailscaleEnabled := strings.ToLower(enableTailscale) == "yes" || strings.ToLower(enableTailscale) == "y"

	var tsHostname, tsAuthKey string
	var tsEphemeral, tsFunnel bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, "Tailscale hostname", "mcpgate")
		tsAuthKey = prompt(reader, "Tailscale auth key (leave empty for interactive)", "")
		ephemeralStr := prompt(reader, "Ephemeral node?", "no")
		tsEphemeral = strings.ToLower(ephemeralStr) == "yes" || strings.ToLower(ephemeralStr) == "y"
		funnelStr := prompt(reader, "Enable Funnel (public HTTPS)?", "no")
		tsFunnel = strings.ToLower(funnelStr) == "yes" || strings.ToLower(funnelStr) == "y"
	}

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# mcpgate configuration\n")
	cfg.WriteString("# Generated by mcpgate init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("endpoint:\n")
	cfg.WriteString(fmt.Sprintf("  protocol: \"%s\"\n", protocol))
	cfg.WriteString(fmt.Sprintf("  domain: \"%s\"\n", domain))
	cfg.WriteString(fmt.Sprintf("  port: %s\n", port))
	cfg.WriteString("\n")

	if upstreamURL != "" {
		cfg.WriteString("upstream:\n")
		cfg.WriteString(fmt.Sprintf("  url: \"%s\"\n", upstreamURL))
		cfg.WriteString("  health_timeout: \"5s\"\n")
		cfg.WriteString("\n")
	}

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", tailscaleEnabled))
	if tailscaleEnabled {
		cfg.WriteString(fmt.Sprintf("  hostname: \"%s\"\n", tsHostname))
		if tsAuthKey != "" {
			cfg.WriteString(fmt.Sprintf("  auth_key: \"%s\"\n", tsAuthKey))
		}
		cfg.WriteString(fmt.Sprintf("  ephemeral: %t\n", tsEphemeral))
		cfg.WriteString(fmt.Sprintf("  funnel: %t\n", tsFunnel))
	}
	cfg.WriteString("\n")

	cfg.WriteString("settings:\n")
	cfg.WriteString("  cache_ttl: \"30s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: false\n")
	cfg.WriteString("  path: \"/metrics\"\n")

	// Ensure config directory exists
	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Ensure data directory exists
	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  mcpgate serve\n")

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
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
