package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type engineBuilder struct {
	runtimeConfig     Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	secretProvider    SecretProvider
	persistenceClient any
	storeFactory      any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	connectionLocker  ConnectionLocker
	backoffScheduler  RetryBackoffScheduler
	rateLimitPolicy   RateLimitPolicy
	registry          Registry
	tenantStore       TenantStore
	taskStore         TaskStore
	directorySink     DirectorySink
	credentialCodec   CredentialCodec
	lifecycleGate     *LifecycleGate
}

type Option func(*engineBuilder)

func WithLogger(logger Logger) Option {
	return func(b *engineBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *engineBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *engineBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *engineBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *engineBuilder) {
		b.errorMapper = mapper
	}
}

func WithSecretProvider(provider SecretProvider) Option {
	return func(b *engineBuilder) {
		b.secretProvider = provider
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *engineBuilder) {
		b.persistenceClient = client
	}
}

func WithStoreFactory(factory any) Option {
	return func(b *engineBuilder) {
		b.storeFactory = factory
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *engineBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *engineBuilder) {
		b.optionsResolver = resolver
	}
}

func WithConnectionLocker(locker ConnectionLocker) Option {
	return func(b *engineBuilder) {
		b.connectionLocker = locker
	}
}

func WithRetryBackoffScheduler(scheduler RetryBackoffScheduler) Option {
	return func(b *engineBuilder) {
		b.backoffScheduler = scheduler
	}
}

func WithRateLimitPolicy(policy RateLimitPolicy) Option {
	return func(b *engineBuilder) {
		b.rateLimitPolicy = policy
	}
}

func WithRegistry(registry Registry) Option {
	return func(b *engineBuilder) {
		b.registry = registry
	}
}

func WithTenantStore(store TenantStore) Option {
	return func(b *engineBuilder) {
		b.tenantStore = store
	}
}

func WithTaskStore(store TaskStore) Option {
	return func(b *engineBuilder) {
		b.taskStore = store
	}
}

func WithDirectorySink(sink DirectorySink) Option {
	return func(b *engineBuilder) {
		b.directorySink = sink
	}
}

func WithCredentialCodec(codec CredentialCodec) Option {
	return func(b *engineBuilder) {
		b.credentialCodec = codec
	}
}

func WithLifecycleGate(gate *LifecycleGate) Option {
	return func(b *engineBuilder) {
		b.lifecycleGate = gate
	}
}

func defaultEngineBuilder(runtime Config) engineBuilder {
	loggerProvider, logger := glog.Resolve("dirsync", nil, nil)
	return engineBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		registry:        NewConnectorRegistry(),
		credentialCodec: JSONCredentialCodec{},
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return engineErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	if includeZero || cfg.Refresh != (RefreshConfig{}) {
		layer["refresh"] = map[string]any{
			"advance_window_seconds":  cfg.Refresh.AdvanceWindowSeconds,
			"failure_backoff_seconds": cfg.Refresh.FailureBackoffSeconds,
			"max_attempts":            cfg.Refresh.MaxAttempts,
			"lock_ttl_seconds":        cfg.Refresh.LockTTLSeconds,
		}
	}
	if includeZero || cfg.Sync != (SyncConfig{}) {
		layer["sync"] = map[string]any{
			"page_timeout_seconds": cfg.Sync.PageTimeoutSeconds,
			"lock_ttl_seconds":     cfg.Sync.LockTTLSeconds,
		}
	}
	if includeZero || cfg.Scheduler != (SchedulerConfig{}) {
		layer["scheduler"] = map[string]any{
			"poll_interval_ms":            cfg.Scheduler.PollIntervalMS,
			"claim_batch_size":            cfg.Scheduler.ClaimBatchSize,
			"max_attempts":                cfg.Scheduler.MaxAttempts,
			"initial_retry_delay_seconds": cfg.Scheduler.InitialRetryDelaySecs,
			"max_retry_delay_seconds":     cfg.Scheduler.MaxRetryDelaySecs,
		}
	}
	if includeZero || cfg.RateLimit != (RateLimitConfig{}) {
		layer["rate_limit"] = map[string]any{
			"default_retry_after_seconds": cfg.RateLimit.DefaultRetryAfterSeconds,
		}
	}
	return layer
}
