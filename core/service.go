package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

var (
	ErrConnectorNotFound = errors.New("core: connector not registered")
	ErrTenantNotFound    = errors.New("core: tenant not found")
)

// StoreFactory builds the persistence surface from a client handle. SQL
// implementations accept *bun.DB or a persistence client exposing DB().
type StoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

// TaskHandler executes one durable step.
type TaskHandler func(ctx context.Context, task Task) error

// Engine drives the two per-tenant durable loops: token refresh and
// directory reconciliation.
type Engine struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
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
	secretProvider    SecretProvider
	credentials       *CredentialService
	lifecycleGate     *LifecycleGate
	nowFn             func() time.Time
}

// EngineDependencies exposes resolved collaborators for composition layers.
type EngineDependencies struct {
	Logger           Logger
	LoggerProvider   LoggerProvider
	MetricsRecorder  MetricsRecorder
	ErrorFactory     ErrorFactory
	ErrorMapper      ErrorMapper
	ConfigProvider   ConfigProvider
	OptionsResolver  OptionsResolver
	ConnectionLocker ConnectionLocker
	BackoffScheduler RetryBackoffScheduler
	RateLimitPolicy  RateLimitPolicy
	Registry         Registry
	TenantStore      TenantStore
	TaskStore        TaskStore
	DirectorySink    DirectorySink
	SecretProvider   SecretProvider
	LifecycleGate    *LifecycleGate
}

func New(cfg Config, options ...Option) (*Engine, error) {
	builder := defaultEngineBuilder(cfg)
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("dirsync", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("dirsync"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.registry == nil {
		builder.registry = NewConnectorRegistry()
	}
	if builder.connectionLocker == nil {
		builder.connectionLocker = NewMemoryConnectionLocker()
	}
	if builder.backoffScheduler == nil {
		builder.backoffScheduler = ExponentialBackoffScheduler{
			Initial: defaultRetryInitialBackoff,
			Max:     defaultRetryMaxBackoff,
		}
	}
	if builder.lifecycleGate == nil {
		builder.lifecycleGate = NewLifecycleGate()
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if (builder.tenantStore == nil || builder.taskStore == nil) && builder.storeFactory != nil {
		if factory, ok := builder.storeFactory.(StoreFactory); ok {
			storeProvider, buildErr := factory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			if storeProvider != nil {
				if builder.tenantStore == nil {
					builder.tenantStore = storeProvider.TenantStore()
				}
				if builder.taskStore == nil {
					builder.taskStore = storeProvider.TaskStore()
				}
			}
		} else if storeProvider, ok := builder.storeFactory.(StoreProvider); ok {
			if builder.tenantStore == nil {
				builder.tenantStore = storeProvider.TenantStore()
			}
			if builder.taskStore == nil {
				builder.taskStore = storeProvider.TaskStore()
			}
		}
	}

	engine := &Engine{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		persistenceClient: builder.persistenceClient,
		storeFactory:      builder.storeFactory,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		connectionLocker:  builder.connectionLocker,
		backoffScheduler:  builder.backoffScheduler,
		rateLimitPolicy:   builder.rateLimitPolicy,
		registry:          builder.registry,
		tenantStore:       builder.tenantStore,
		taskStore:         builder.taskStore,
		directorySink:     builder.directorySink,
		secretProvider:    builder.secretProvider,
		lifecycleGate:     builder.lifecycleGate,
		nowFn:             func() time.Time { return time.Now().UTC() },
	}

	if builder.tenantStore != nil && builder.secretProvider != nil {
		credentials, credErr := NewCredentialService(builder.tenantStore, builder.secretProvider, builder.credentialCodec)
		if credErr != nil {
			return nil, mapBuildError(builder.errorMapper, credErr)
		}
		engine.credentials = credentials
	}

	return engine, nil
}

func Setup(cfg Config, options ...Option) (*Engine, error) {
	return New(cfg, options...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return e.config
}

func (e *Engine) Dependencies() EngineDependencies {
	if e == nil {
		return EngineDependencies{}
	}
	return EngineDependencies{
		Logger:           e.logger,
		LoggerProvider:   e.loggerProvider,
		MetricsRecorder:  e.metricsRecorder,
		ErrorFactory:     e.errorFactory,
		ErrorMapper:      e.errorMapper,
		ConfigProvider:   e.configProvider,
		OptionsResolver:  e.optionsResolver,
		ConnectionLocker: e.connectionLocker,
		BackoffScheduler: e.backoffScheduler,
		RateLimitPolicy:  e.rateLimitPolicy,
		Registry:         e.registry,
		TenantStore:      e.tenantStore,
		TaskStore:        e.taskStore,
		DirectorySink:    e.directorySink,
		SecretProvider:   e.secretProvider,
		LifecycleGate:    e.lifecycleGate,
	}
}

func (e *Engine) mapError(err error) error {
	if err == nil {
		return nil
	}
	if e == nil || e.errorMapper == nil {
		return err
	}
	mapped := e.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (e *Engine) now() time.Time {
	if e == nil || e.nowFn == nil {
		return time.Now().UTC()
	}
	return e.nowFn().UTC()
}

// RegisterConnector adds a vendor connector to the engine registry.
func (e *Engine) RegisterConnector(connector VendorConnector) error {
	if e == nil || e.registry == nil {
		return fmt.Errorf("core: engine registry is not configured")
	}
	return e.registry.Register(connector)
}

// Connector resolves a registered vendor connector.
func (e *Engine) Connector(connectorID string) (VendorConnector, error) {
	if e == nil || e.registry == nil {
		return nil, fmt.Errorf("core: engine registry is not configured")
	}
	connector, ok := e.registry.Get(connectorID)
	if !ok {
		return nil, e.mapError(fmt.Errorf("%w: %s", ErrConnectorNotFound, strings.TrimSpace(connectorID)))
	}
	return connector, nil
}

// GetTenant loads one tenant row, secrets still encrypted.
func (e *Engine) GetTenant(ctx context.Context, tenantID string) (Tenant, error) {
	tenant, err := e.loadTenant(ctx, tenantID)
	if err != nil {
		return Tenant{}, e.mapError(err)
	}
	return tenant, nil
}

// TaskHandlers maps durable step names to their handlers. The dispatcher
// registers these at startup.
func (e *Engine) TaskHandlers() map[string]TaskHandler {
	return map[string]TaskHandler{
		TaskSyncRequested:         e.HandleSyncTask,
		TaskTokenRefreshRequested: e.HandleRefreshTask,
		TaskTenantInstalled:       e.HandleTenantInstalledTask,
		TaskTenantUninstalled:     e.HandleTenantUninstalledTask,
	}
}

func (e *Engine) loadTenant(ctx context.Context, tenantID string) (Tenant, error) {
	if e == nil || e.tenantStore == nil {
		return Tenant{}, fmt.Errorf("core: tenant store is not configured")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return Tenant{}, fmt.Errorf("core: tenant id is required")
	}
	tenant, err := e.tenantStore.Get(ctx, tenantID)
	if err != nil {
		return Tenant{}, err
	}
	return tenant, nil
}

func (e *Engine) enqueueTask(ctx context.Context, task Task) error {
	if e == nil || e.taskStore == nil {
		return fmt.Errorf("core: task store is not configured")
	}
	if strings.TrimSpace(task.ID) == "" {
		task.ID = uuid.NewString()
	}
	if strings.TrimSpace(task.DedupKey) == "" {
		task.DedupKey = TaskDedupKey(task.Name, task.TenantID)
	}
	if task.RunAt.IsZero() {
		task.RunAt = e.now()
	}
	task.RunAt = task.RunAt.UTC()
	task.Status = TaskStatusPending
	return e.taskStore.Enqueue(ctx, task)
}
