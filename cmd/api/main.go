package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/axleworks/api/internal/di"
	domain "github.com/axleworks/api/internal/domain"
	"github.com/axleworks/api/internal/handlers"
	"github.com/axleworks/api/internal/orders"
	"github.com/axleworks/api/internal/payments"
	"github.com/axleworks/api/internal/platform/auth"
	"github.com/axleworks/api/internal/platform/config"
	pfirestore "github.com/axleworks/api/internal/platform/firestore"
	"github.com/axleworks/api/internal/platform/idempotency"
	"github.com/axleworks/api/internal/platform/jobs"
	"github.com/axleworks/api/internal/platform/observability"
	"github.com/axleworks/api/internal/platform/secrets"
	"github.com/axleworks/api/internal/repositories"
	firestoreRepo "github.com/axleworks/api/internal/repositories/firestore"
	redisstore "github.com/axleworks/api/internal/repositories/redis"
	"github.com/axleworks/api/internal/services"
	"github.com/axleworks/api/internal/shipping"
	"github.com/axleworks/api/internal/tax"
)

func main() {
	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx := observability.WithLogger(context.Background(), logger)

	if err := run(ctx, logger); err != nil {
		logger.Fatal("api exited", zap.Error(err))
	}
}

func run(ctx context.Context, logger *zap.Logger) error {
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		return fmt.Errorf("secret fetcher: %w", err)
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Error("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		return fmt.Errorf("load configuration: %w", err)
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		return fmt.Errorf("firestore client: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	if strings.TrimSpace(cfg.Redis.Addr) == "" {
		return errors.New("redis address is required for checkout session state")
	}
	sessionStore, err := redisstore.NewSessionStore(redisstore.Config{
		Addr:            cfg.Redis.Addr,
		Password:        cfg.Redis.Password,
		DB:              cfg.Redis.DB,
		KeyPrefix:       cfg.Redis.KeyPrefix,
		ConfirmationTTL: cfg.Redis.ConfirmationTTL,
		NotesTTL:        cfg.Redis.NotesTTL,
	})
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	defer func() {
		if err := sessionStore.Close(); err != nil {
			logger.Warn("session store close error", zap.Error(err))
		}
	}()

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, repositories.DependencyCheck{
		Name:  "redis",
		Check: sessionStore.Ping,
	})
	if err != nil {
		return fmt.Errorf("repositories: %w", err)
	}

	container, err := di.NewContainer(ctx, cfg, registry)
	if err != nil {
		return fmt.Errorf("services: %w", err)
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)
	stopCleanup := startIdempotencyCleanup(logger.Named("idempotency"), idempotencyStore, cfg.Idempotency)
	defer stopCleanup()

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		return fmt.Errorf("firebase verifier: %w", err)
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier, auth.WithUserGetter(firebaseVerifier))

	addressValidator, err := shipping.NewHTTPAddressValidator(shipping.ValidatorConfig{
		BaseURL: cfg.Shipping.BaseURL,
		APIKey:  cfg.Shipping.APIKey,
		Timeout: cfg.Shipping.Timeout,
	})
	if err != nil {
		return fmt.Errorf("address validator: %w", err)
	}
	rateResolver, err := shipping.NewHTTPRateResolver(shipping.ResolverConfig{
		BaseURL: cfg.Shipping.BaseURL,
		APIKey:  cfg.Shipping.APIKey,
		Timeout: cfg.Shipping.Timeout,
		Logger:  zapEventLogger(logger.Named("shipping")),
	})
	if err != nil {
		return fmt.Errorf("shipping rate resolver: %w", err)
	}
	taxResolver, err := tax.NewHTTPTaxResolver(tax.ResolverConfig{
		BaseURL: cfg.Tax.BaseURL,
		APIKey:  cfg.Tax.APIKey,
		Timeout: cfg.Tax.Timeout,
	})
	if err != nil {
		return fmt.Errorf("tax resolver: %w", err)
	}
	orderGateway, err := orders.NewHTTPGateway(orders.GatewayConfig{
		BaseURL: cfg.Orders.BaseURL,
		APIKey:  cfg.Orders.APIKey,
		Timeout: cfg.Orders.Timeout,
		Logger:  zapEventLogger(logger.Named("orders")),
	})
	if err != nil {
		return fmt.Errorf("order gateway: %w", err)
	}

	paypalClient := payments.NewPayPalClient(payments.PayPalClientConfig{
		BaseURL:   strings.TrimSpace(envValues["API_PSP_PAYPAL_BASE_URL"]),
		ClientID:  cfg.PSP.PayPalClientID,
		Secret:    cfg.PSP.PayPalSecret,
		ReturnURL: strings.TrimSpace(envValues["API_PSP_PAYPAL_RETURN_URL"]),
		CancelURL: strings.TrimSpace(envValues["API_PSP_PAYPAL_CANCEL_URL"]),
		Logger:    zapEventLogger(logger.Named("paypal")),
	})
	countryPolicy := payments.NewCountryPolicy(cfg.Checkout.PayPalOnlyCountries)

	var receiptDispatcher services.ReceiptDispatcher
	if topicName := strings.TrimSpace(cfg.Receipts.Topic); topicName != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client: %w", err)
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		receiptDispatcher, err = jobs.NewPubSubReceiptDispatcher(pubsubClient.Topic(topicName))
		if err != nil {
			return fmt.Errorf("receipt dispatcher: %w", err)
		}
	} else {
		logger.Warn("receipts topic not configured; confirmation emails disabled")
	}

	flowManager, err := services.NewCheckoutFlowManager(services.CheckoutFlowManagerDeps{
		Carts:     container.Services.Cart,
		Validator: addressValidator,
		Rates:     rateResolver,
		Tax:       taxResolver,
		Coupons:   container.Services.Coupons,
		Dealers:   container.Services.Dealers,
		Policy:    countryPolicy,
		Profiles:  container.Services.Users,
		Notes:     sessionStore.Notes(),
		Origin:    originAddressFromEnv(envValues),
		Currency:  cfg.Checkout.DefaultCurrency,
		FlowTTL:   cfg.Checkout.FlowTTL,
		Logger:    zapEventLogger(logger.Named("checkout")),
		Sanitize:  newNotesSanitizer(),
	})
	if err != nil {
		return fmt.Errorf("checkout flow manager: %w", err)
	}

	submitter, err := services.NewOrderSubmitter(services.OrderSubmitterDeps{
		Gateway:       orderGateway,
		PayPal:        paypalClient,
		Profiles:      container.Services.Users,
		Receipts:      receiptDispatcher,
		Confirmations: sessionStore,
		Notes:         sessionStore.Notes(),
		Orders:        orderRecorder{orders: registry.Orders()},
		Logger:        zapEventLogger(logger.Named("submit")),
	})
	if err != nil {
		return fmt.Errorf("order submitter: %w", err)
	}

	meHandlers := handlers.NewMeHandlers(authenticator, container.Services.Users)
	cartHandlers := handlers.NewCartHandlers(authenticator, container.Services.Cart)
	catalogHandlers := handlers.NewCatalogHandlers(container.Services.Catalog)
	adminHandlers := handlers.NewAdminCatalogHandlers(authenticator, container.Services.Catalog, registry.Coupons())
	checkoutHandlers := handlers.NewCheckoutHandlers(authenticator, flowManager, submitter, sessionStore, handlers.CheckoutFeatures{
		Coupons:      cfg.Features.EnableCoupons,
		DealerOrders: cfg.Features.EnableDealerOrders,
	})
	orderHandlers := handlers.NewOrderHandlers(authenticator, container.Services.Orders)
	webhookHandlers := handlers.NewWebhookHandlers(registry.Orders(), flowManager, submitter)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthRepository(registry.Health()),
		handlers.WithBuildInfo(buildVersion(envValues), buildCommit(envValues), cfg.Security.Environment),
	)

	projectID := traceProjectID(cfg)
	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(projectID),
			handlers.RateLimitMiddleware(cfg.RateLimits.DefaultPerMinute, time.Minute),
			idempotencyMiddleware,
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithPublicRoutes(catalogHandlers.Routes),
		handlers.WithMeRoutes(meHandlers.Routes),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	}
	if mw := buildOIDCMiddleware(logger.Named("auth"), cfg); mw != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(mw))
	}
	if mw := buildHMACMiddleware(logger.Named("auth"), cfg); mw != nil {
		opts = append(opts, handlers.WithWebhookMiddlewares(mw))
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handlers.NewRouter(opts...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Named("http").Info("axleworks api listening",
			zap.String("addr", server.Addr),
			zap.Time("startedAt", startedAt),
		)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-shutdown:
	}
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

type recordPurger interface {
	Purge(ctx context.Context, now time.Time, limit int) (int, error)
}

// startIdempotencyCleanup sweeps expired idempotency records on an interval.
// The returned stop function blocks until the sweeper goroutine exits.
func startIdempotencyCleanup(logger *zap.Logger, store recordPurger, cfg config.IdempotencyConfig) (stop func()) {
	if cfg.CleanupInterval <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	ticker := time.NewTicker(cfg.CleanupInterval)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-ticker.C:
				runCtx, cancelRun := context.WithTimeout(ctx, time.Minute)
				removed, err := store.Purge(runCtx, time.Now().UTC(), cfg.CleanupBatchSize)
				cancelRun()
				if err != nil {
					logger.Error("idempotency cleanup error", zap.Error(err))
					continue
				}
				if removed > 0 {
					logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		ticker.Stop()
		cancel()
		<-done
	}
}

// orderRecorder adapts the order repository to the submitter's Record hook.
type orderRecorder struct {
	orders interface {
		Insert(ctx context.Context, order domain.Order) error
	}
}

func (r orderRecorder) Record(ctx context.Context, order domain.Order) error {
	if r.orders == nil {
		return errors.New("order recorder: repository not configured")
	}
	return r.orders.Insert(ctx, order)
}

// newNotesSanitizer strips markup from order notes before they are persisted
// and masks anything resembling a card number.
func newNotesSanitizer() func(string) string {
	policy := bluemonday.StrictPolicy()
	return func(notes string) string {
		return observability.RedactCardNumbers(strings.TrimSpace(policy.Sanitize(notes)))
	}
}

func zapEventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug("event", zFields...)
	}
}

func buildVersion(env map[string]string) string {
	if version := strings.TrimSpace(env["API_BUILD_VERSION"]); version != "" {
		return version
	}
	return "dev"
}

func buildCommit(env map[string]string) string {
	if commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"]); commit != "" {
		return commit
	}
	return "unknown"
}

// originAddressFromEnv reads the warehouse origin used for rate quotes.
func originAddressFromEnv(env map[string]string) domain.Address {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}
	return domain.Address{
		Address1: lookup("API_SHIPPING_ORIGIN_ADDRESS1"),
		Address2: lookup("API_SHIPPING_ORIGIN_ADDRESS2"),
		City:     lookup("API_SHIPPING_ORIGIN_CITY"),
		State:    lookup("API_SHIPPING_ORIGIN_STATE"),
		Zip:      lookup("API_SHIPPING_ORIGIN_ZIP"),
		Country:  lookup("API_SHIPPING_ORIGIN_COUNTRY"),
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	adapter := observability.NewPrintfAdapter(logger)
	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(adapter))
	validator := auth.NewOIDCValidator(cache, auth.WithOIDCLogger(adapter))

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	issuers := cfg.Security.OIDC.Issuers
	if len(issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}

	return validator.RequireOIDC(audience, issuers)
}

func buildHMACMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	known := make(map[string]string)
	for key, value := range cfg.Security.HMAC.Secrets {
		if strings.TrimSpace(value) == "" {
			continue
		}
		known[strings.ToLower(key)] = value
	}
	if cfg.Webhooks.SigningSecret != "" {
		if _, ok := known["default"]; !ok {
			known["default"] = cfg.Webhooks.SigningSecret
		}
	}
	if len(known) == 0 {
		return nil
	}

	validator := auth.NewHMACValidator(
		staticSecretProvider{secrets: known},
		auth.NewInMemoryNonceStore(),
		auth.WithHMACLogger(observability.NewPrintfAdapter(logger)),
		auth.WithHMACHeaders(cfg.Security.HMAC.SignatureHeader, cfg.Security.HMAC.TimestampHeader, cfg.Security.HMAC.NonceHeader),
		auth.WithHMACClockSkew(cfg.Security.HMAC.ClockSkew),
		auth.WithHMACNonceTTL(cfg.Security.HMAC.NonceTTL),
	)
	return validator.RequireHMACResolver(webhookSecretResolver(known))
}

type staticSecretProvider struct {
	secrets map[string]string
}

func (p staticSecretProvider) GetSecret(_ context.Context, name string) (string, error) {
	if len(p.secrets) == 0 {
		return "", errors.New("auth: hmac secrets not configured")
	}
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return "", errors.New("auth: secret name required")
	}
	if secret, ok := p.secrets[key]; ok && secret != "" {
		return secret, nil
	}
	return "", errors.New("auth: secret not found")
}

// webhookSecretResolver maps a webhook path to the signing secret for its
// provider. /webhooks/payments/stripe tries payments/stripe, then payments,
// then the default secret.
func webhookSecretResolver(known map[string]string) func(*http.Request) (string, bool) {
	return func(r *http.Request) (string, bool) {
		path := r.URL.Path
		if idx := strings.Index(path, "/webhooks/"); idx >= 0 {
			path = path[idx+len("/webhooks/"):]
		}
		path = strings.Trim(path, "/")

		var candidates []string
		if segments := strings.Split(path, "/"); path != "" {
			if len(segments) >= 2 {
				candidates = append(candidates, strings.ToLower(segments[0]+"/"+segments[1]))
			}
			candidates = append(candidates, strings.ToLower(segments[0]))
		}
		candidates = append(candidates, "default")

		for _, candidate := range candidates {
			if secret, ok := known[candidate]; ok && secret != "" {
				return candidate, true
			}
		}
		return "", false
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projectMap := parseCSVMap(env["API_SECRET_PROJECT_IDS"], true); len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if pins := secretVersionPinsFromEnv(env); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the config fields that must resolve to non-empty
// values before the server starts. PSP keys are only mandatory when the
// corresponding environment variable is present at all.
func requiredSecretNames(env map[string]string) []string {
	required := []string{
		"Orders.APIKey",
		"Webhooks.SigningSecret",
	}
	if strings.TrimSpace(env["API_PSP_PAYPAL_SECRET"]) != "" {
		required = append(required, "PSP.PayPalSecret")
	}
	if strings.TrimSpace(env["API_PSP_STRIPE_API_KEY"]) != "" {
		required = append(required, "PSP.StripeAPIKey")
	}
	for key := range parseCSVMap(env["API_SECURITY_HMAC_SECRETS"], true) {
		required = append(required, fmt.Sprintf("Security.HMAC.Secrets[%s]", key))
	}
	sort.Strings(required)
	return required
}

// secretVersionPinsFromEnv parses API_SECRET_VERSION_PINS, normalising each
// reference to the secret:// scheme and preserving an optional environment
// prefix ("prod:secret://name=3").
func secretVersionPinsFromEnv(env map[string]string) map[string]string {
	pins := make(map[string]string)
	for ref, version := range parseCSVMap(env["API_SECRET_VERSION_PINS"], false) {
		var prefix string
		if idx := strings.Index(ref, ":"); idx > 0 {
			if scheme := strings.Index(ref, "://"); scheme == -1 || idx < scheme {
				prefix = strings.ToLower(strings.TrimSpace(ref[:idx])) + ":"
				ref = strings.TrimSpace(ref[idx+1:])
			}
		}
		if rest, ok := strings.CutPrefix(ref, "sm://"); ok {
			ref = "secret://" + rest
		} else if !strings.HasPrefix(ref, "secret://") {
			ref = "secret://" + ref
		}
		pins[prefix+ref] = version
	}
	return pins
}

// parseCSVMap parses "key=value,key=value" lists. Keys are lowercased when
// fold is set; empty keys and values are dropped.
func parseCSVMap(raw string, fold bool) map[string]string {
	out := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		if fold {
			key = strings.ToLower(key)
		}
		out[key] = value
	}
	return out
}
