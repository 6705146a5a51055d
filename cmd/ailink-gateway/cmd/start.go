package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	stdhttp "net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/ailink-gateway/ailink/internal/adapter/inbound/admin"
	"github.com/ailink-gateway/ailink/internal/adapter/inbound/http"
	"github.com/ailink-gateway/ailink/internal/adapter/inbound/httpgw"
	"github.com/ailink-gateway/ailink/internal/adapter/outbound/memory"
	"github.com/ailink-gateway/ailink/internal/adapter/outbound/state"
	"github.com/ailink-gateway/ailink/internal/config"
	"github.com/ailink-gateway/ailink/internal/domain/action"
	"github.com/ailink-gateway/ailink/internal/domain/approval"
	"github.com/ailink-gateway/ailink/internal/domain/auth"
	"github.com/ailink-gateway/ailink/internal/domain/billing"
	"github.com/ailink-gateway/ailink/internal/domain/cache"
	"github.com/ailink-gateway/ailink/internal/domain/credential"
	"github.com/ailink-gateway/ailink/internal/domain/pii"
	"github.com/ailink-gateway/ailink/internal/domain/stream"
	"github.com/ailink-gateway/ailink/internal/domain/upstream"
	"github.com/ailink-gateway/ailink/internal/service"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway server",
	Long: `Start the AILink gateway server.

AILink listens on a single HTTP address and exposes an OpenAI-compatible
/v1/chat/completions endpoint backed by policy enforcement, credential
injection, response caching, cost accounting, human approval, and audit
logging, then dispatches to whichever upstream provider (OpenAI,
Anthropic, Gemini) the resolved model alias routes to.

Examples:
  # Start with config file settings
  ailink start

  # Start with a specific config file
  ailink --config /path/to/ailink.yaml start

  # Start in development mode (permissive defaults, verbose logging)
  ailink start --dev`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging, relaxed validation)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if devMode {
		cfg.DevMode = true
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	statePath := stateFilePath
	if statePath == "" {
		statePath = os.Getenv("AILINK_STATE_PATH")
	}
	if statePath == "" {
		statePath = "./state.json"
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "effective", logLevel.String())

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := run(ctx, cfg, statePath, logger); err != nil {
		return err
	}

	logger.Info("ailink stopped")
	return nil
}

// run is the main orchestration function that wires all components
// together. It implements the boot sequence BOOT-01 through BOOT-10.
func run(ctx context.Context, cfg *config.OSSConfig, statePath string, logger *slog.Logger) error {
	startTime := time.Now().UTC()

	if cfg.DevMode {
		logger.Warn("dev mode enabled: authentication is bypassed and permissive defaults are in effect — do not use in production")
	}

	// ===== BOOT-01: Load/create state.json =====
	stateStore := state.NewFileStateStore(statePath, logger)
	appState, err := stateStore.Load()
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}

	// Merge config-seeded identities into state so the identity service
	// (the only port ProxyService.resolveCaps reads spend caps through)
	// sees them. Only config identities not yet in state are added (with
	// the config's default spend caps); identities already in state are
	// left untouched.
	seedIdentitiesFromConfig(cfg, appState)

	if err := stateStore.Save(appState); err != nil {
		return fmt.Errorf("failed to save initial state: %w", err)
	}
	logger.Info("state loaded",
		"path", statePath,
		"providers", len(appState.Providers),
		"routes", len(appState.Routes),
		"policies", len(appState.Policies),
		"identities", len(appState.Identities),
	)

	// ===== BOOT-02: Populate in-memory stores =====
	authStore := memory.NewAuthStore()
	policyStore := memory.NewPolicyStore()
	providerStore := memory.NewProviderStore()
	routeStore := memory.NewRouteStore()
	credentialStore := memory.NewCredentialStore()
	piiStore := memory.NewPIIStore()
	approvalStore := memory.NewApprovalStore()
	spendLedger := memory.NewSpendLedger()

	var rateLimiter *memory.MemoryRateLimiter
	if cfg.RateLimit.Enabled {
		cleanupInterval, perr := time.ParseDuration(cfg.RateLimit.CleanupInterval)
		if perr != nil {
			cleanupInterval = 5 * time.Minute
			logger.Warn("invalid rate_limit.cleanup_interval, using default",
				"value", cfg.RateLimit.CleanupInterval, "default", "5m")
		}
		maxTTL, perr := time.ParseDuration(cfg.RateLimit.MaxTTL)
		if perr != nil {
			maxTTL = time.Hour
			logger.Warn("invalid rate_limit.max_ttl, using default",
				"value", cfg.RateLimit.MaxTTL, "default", "1h")
		}
		rateLimiter = memory.NewRateLimiterWithConfig(cleanupInterval, maxTTL)
		rateLimiter.StartCleanup(ctx)
		defer rateLimiter.Stop()
	} else {
		rateLimiter = memory.NewRateLimiter()
	}

	// Seed YAML identities/API keys/policies as a read-only base.
	if err := seedAuthFromConfig(cfg, authStore); err != nil {
		return fmt.Errorf("failed to seed auth: %w", err)
	}
	logger.Debug("seeded auth from YAML config",
		"identities", len(cfg.Auth.Identities),
		"api_keys", len(cfg.Auth.APIKeys),
	)

	// Load identities/API keys created via the admin API from state.json.
	seedAuthFromState(appState, authStore, logger)

	if err := seedPoliciesFromConfig(cfg, policyStore); err != nil {
		return fmt.Errorf("failed to seed policies: %w", err)
	}
	logger.Debug("seeded policies from YAML config", "policies", len(cfg.Policies))

	// ===== BOOT-03: Credential vault =====
	masterKey, err := resolveMasterKey(cfg)
	if err != nil {
		return fmt.Errorf("failed to resolve vault master key: %w", err)
	}
	credVault := credential.NewVault(credential.StaticKeySource(masterKey))
	piiVault := pii.NewVault(pii.StaticKeySource(masterKey))

	// ===== BOOT-04: Upstream services: providers, routes, credentials =====
	upstreamService := service.NewUpstreamService(providerStore, routeStore, stateStore, logger)
	if err := upstreamService.LoadFromState(ctx, appState); err != nil {
		return fmt.Errorf("failed to load upstreams from state: %w", err)
	}

	if err := seedProvidersFromConfig(ctx, cfg, upstreamService, credVault, credentialStore, logger); err != nil {
		return fmt.Errorf("failed to seed providers: %w", err)
	}

	providerRegistry, err := buildProviderRegistry(ctx, providerStore, credentialStore, credVault, logger)
	if err != nil {
		return fmt.Errorf("failed to build provider registry: %w", err)
	}

	providers, _ := providerStore.List(ctx)
	logger.Info("providers configured", "count", len(providers), "registered", len(providerRegistry.List()))

	routerSvc := upstream.NewRouterService(routeStore)

	breakerCfg := upstream.DefaultBreakerConfig()
	if cfg.CircuitBreaker.FailureThreshold > 0 {
		breakerCfg.MinSamples = cfg.CircuitBreaker.FailureThreshold
	}
	if cfg.CircuitBreaker.OpenDuration != "" {
		if d, perr := time.ParseDuration(cfg.CircuitBreaker.OpenDuration); perr == nil {
			breakerCfg.OpenTimeout = d
		} else {
			logger.Warn("invalid circuit_breaker.open_duration, using default",
				"value", cfg.CircuitBreaker.OpenDuration, "default", breakerCfg.OpenTimeout)
		}
	}
	breakers := upstream.NewBreakerRegistry(breakerCfg)

	tracerProvider, tracerShutdown, err := newTracerProvider(cfg.DevMode)
	if err != nil {
		return fmt.Errorf("failed to create tracer provider: %w", err)
	}
	defer func() { _ = tracerShutdown(context.Background()) }()
	tracer := tracerProvider.Tracer("ailink/dispatcher")

	dispatcher := upstream.NewDispatcher(providerRegistry, routerSvc, breakers, tracer)

	// ===== BOOT-05: Response cache =====
	defaultTTL, perr := time.ParseDuration(cfg.Cache.DefaultTTL)
	if perr != nil {
		defaultTTL = cache.DefaultTTL
		logger.Warn("invalid cache.default_ttl, using default", "value", cfg.Cache.DefaultTTL, "default", defaultTTL)
	}
	var respCache *cache.ResponseCache
	if cfg.Cache.Enabled {
		cacheStore, cerr := cache.NewMemory(cfg.Cache.MaxEntries, defaultTTL)
		if cerr != nil {
			return fmt.Errorf("failed to create response cache: %w", cerr)
		}
		respCache = cache.NewResponseCache(cacheStore)
	}

	// ===== BOOT-06: PII tokenizer =====
	tokenizer := pii.NewTokenizer(piiVault, piiStore, 24*time.Hour)

	// ===== BOOT-07: Cost accountant =====
	pricingTable := billing.NewPricingTable()
	for _, p := range cfg.Pricing {
		re, perr := regexpCompile(p.ModelPattern)
		if perr != nil {
			logger.Warn("invalid pricing model_pattern, skipping rule",
				"provider", p.Provider, "pattern", p.ModelPattern, "error", perr)
			continue
		}
		pricingTable.Add(billing.PricingRule{
			Provider:            p.Provider,
			ModelPattern:        re,
			InputPerMillionUSD:  p.InputPerMillionUSD,
			OutputPerMillionUSD: p.OutputPerMillionUSD,
		})
	}
	accountant := billing.NewCostAccountant(pricingTable, spendLedger, cfg.DevMode)

	// ===== BOOT-08: Streaming bridge and approval broker =====
	bridge := stream.NewBridge(logger)
	approvalBroker := approval.NewBroker(approvalStore, logger)

	// ===== BOOT-09: Policy engine, audit, identities =====
	policyService, err := service.NewPolicyService(ctx, policyStore, logger)
	if err != nil {
		return fmt.Errorf("failed to create policy service: %w", err)
	}
	policyEvalService := service.NewPolicyEvaluationService(policyService, policyStore, stateStore, logger)
	policyAdminService := service.NewPolicyAdminService(policyStore, stateStore, policyService, logger)

	auditStore, err := createAuditStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create audit store: %w", err)
	}
	defer func() { _ = auditStore.Close() }()

	flushInterval, perr := time.ParseDuration(cfg.Audit.FlushInterval)
	if perr != nil {
		flushInterval = time.Second
		logger.Warn("invalid audit.flush_interval, using default", "value", cfg.Audit.FlushInterval, "default", "1s")
	}
	sendTimeout, perr := time.ParseDuration(cfg.Audit.SendTimeout)
	if perr != nil {
		sendTimeout = 100 * time.Millisecond
		logger.Warn("invalid audit.send_timeout, using default", "value", cfg.Audit.SendTimeout, "default", "100ms")
	}

	auditService := service.NewAuditService(auditStore, logger,
		service.WithChannelSize(cfg.Audit.ChannelSize),
		service.WithBatchSize(cfg.Audit.BatchSize),
		service.WithFlushInterval(flushInterval),
		service.WithSendTimeout(sendTimeout),
		service.WithWarningThreshold(cfg.Audit.WarningThreshold),
	)
	auditService.Start(ctx)
	defer auditService.Stop()

	identityService := service.NewIdentityService(stateStore, logger)
	if err := identityService.Init(); err != nil {
		return fmt.Errorf("init identity service: %w", err)
	}
	statsService := service.NewStatsService()
	apiKeyService := auth.NewAPIKeyService(authStore)

	outboundStore := action.NewMemoryOutboundStore()
	outboundAdminService := service.NewOutboundAdminService(outboundStore, stateStore, logger)
	if err := outboundAdminService.LoadFromState(ctx, appState); err != nil {
		logger.Error("failed to load outbound rules from state", "error", err)
	}

	// ===== BOOT-10: Proxy orchestration pipeline and HTTP transport =====
	proxyService := service.NewProxyService(
		policyService,
		dispatcher,
		routerSvc,
		respCache,
		accountant,
		bridge,
		approvalBroker,
		tokenizer,
		identityService,
		auditService,
		logger,
	)

	chatHandler := httpgw.NewAuthMiddleware(httpgw.AuthConfig{
		APIKeyService: apiKeyService,
		DevMode:       cfg.DevMode,
		Logger:        logger,
	})(httpgw.NewChatCompletionHandler(proxyService, logger))

	apiHandler := admin.NewAdminAPIHandler(
		admin.WithUpstreamService(upstreamService),
		admin.WithPolicyService(policyService),
		admin.WithPolicyStore(policyStore),
		admin.WithPolicyEvalService(policyEvalService),
		admin.WithPolicyAdminService(policyAdminService),
		admin.WithIdentityService(identityService),
		admin.WithAuditService(auditService),
		admin.WithAuditReader(auditStore),
		admin.WithStatsService(statsService),
		admin.WithStateStore(stateStore),
		admin.WithAuthStore(authStore),
		admin.WithOutboundAdminService(outboundAdminService),
		admin.WithAPILogger(logger),
		admin.WithBuildInfo(&admin.BuildInfo{
			Version:   Version,
			Commit:    Commit,
			BuildDate: BuildDate,
		}),
		admin.WithStartTime(startTime),
	)

	healthChecker := http.NewHealthChecker(rateLimiter, auditService, Version)

	mux := stdhttp.NewServeMux()
	mux.Handle("/admin/api/", apiHandler.Routes())

	transport := http.NewHTTPTransport(proxyService,
		http.WithAddr(cfg.Server.HTTPAddr),
		http.WithLogger(logger),
		http.WithHealthChecker(healthChecker),
		http.WithChatHandler(chatHandler),
		http.WithExtraHandler(mux),
	)

	ruleCount := countRules(ctx, policyStore)
	logger.Info("ailink starting",
		"version", Version,
		"dev_mode", cfg.DevMode,
		"http_addr", cfg.Server.HTTPAddr,
		"providers", len(providers),
		"rules", ruleCount,
		"rate_limit", cfg.RateLimit.Enabled,
		"cache", cfg.Cache.Enabled,
		"audit_output", cfg.Audit.Output,
		"state_file", statePath,
	)
	printBanner(Version, cfg.Server.HTTPAddr, cfg.DevMode, len(providers), ruleCount)

	logger.Info("transport mode: HTTP", "addr", cfg.Server.HTTPAddr)
	return transport.Start(ctx)
}

// pidFilePath returns the path AILink writes its PID to while running, so
// "ailink stop" can find and signal it.
func pidFilePath() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".ailink", "server.pid")
	}
	return filepath.Join(os.TempDir(), "ailink-server.pid")
}

// writePIDFile writes the current process's PID to path, creating parent
// directories as needed.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}

// parseLogLevel converts a string log level to slog.Level. Returns
// slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// countRules returns the total number of rules across all loaded policies.
func countRules(ctx context.Context, policyStore *memory.MemoryPolicyStore) int {
	policies, err := policyStore.GetAllPolicies(ctx)
	if err != nil {
		return 0
	}
	count := 0
	for _, p := range policies {
		count += len(p.Rules)
	}
	return count
}

// printBanner prints a formatted startup banner to stderr with version,
// address, mode, and resource counts.
func printBanner(version, httpAddr string, devMode bool, providerCount, ruleCount int) {
	const (
		reset  = "\033[0m"
		bold   = "\033[1m"
		cyan   = "\033[36m"
		green  = "\033[32m"
		yellow = "\033[33m"
		dim    = "\033[2m"
	)

	adminURL := fmt.Sprintf("http://localhost%s/admin/api/", httpAddr)
	chatURL := fmt.Sprintf("http://localhost%s/v1/chat/completions", httpAddr)
	if !strings.HasPrefix(httpAddr, ":") {
		adminURL = fmt.Sprintf("http://%s/admin/api/", httpAddr)
		chatURL = fmt.Sprintf("http://%s/v1/chat/completions", httpAddr)
	}

	modeStr := green + "production" + reset
	if devMode {
		modeStr = yellow + "development" + reset + dim + " (no auth)" + reset
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  %s%sAILink %s%s\n", bold, cyan, version, reset)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Admin API:", adminURL)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Gateway:", chatURL)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Mode:", modeStr)
	fmt.Fprintf(os.Stderr, "  %-14s %d configured\n", "Providers:", providerCount)
	fmt.Fprintf(os.Stderr, "  %-14s %d active\n", "Rules:", ruleCount)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "\n")
}

// newTracerProvider builds an OpenTelemetry TracerProvider for the
// upstream dispatcher's spans. In dev mode spans are written to stderr;
// in production they are still collected (batched) but exported to a
// discard writer, since AILink OSS has no external trace collector wired
// in (Non-goal: SIEM/observability backend integration).
func newTracerProvider(devMode bool) (*sdktrace.TracerProvider, func(context.Context) error, error) {
	writer := io.Discard
	if devMode {
		writer = os.Stderr
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(writer), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, fmt.Errorf("create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	return tp, tp.Shutdown, nil
}
