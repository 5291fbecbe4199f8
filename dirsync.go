package dirsync

import "github.com/goliatone/go-dirsync/core"

type Config = core.Config

type Option = core.Option

type Engine = core.Engine

type EngineDependencies = core.EngineDependencies

type Tenant = core.Tenant
type Task = core.Task
type DirectoryRecord = core.DirectoryRecord
type InvalidRecord = core.InvalidRecord
type Page = core.Page
type RefreshedSecrets = core.RefreshedSecrets

type VendorConnector = core.VendorConnector
type RemoteUserDeleter = core.RemoteUserDeleter
type DirectorySink = core.DirectorySink
type TenantStore = core.TenantStore
type TaskStore = core.TaskStore
type StoreProvider = core.StoreProvider
type SecretProvider = core.SecretProvider
type RateLimitPolicy = core.RateLimitPolicy
type RateLimitKey = core.RateLimitKey
type ConnectionLocker = core.ConnectionLocker
type RetryBackoffScheduler = core.RetryBackoffScheduler
type Registry = core.Registry
type LifecycleGate = core.LifecycleGate

type InstallTenantInput = core.InstallTenantInput
type RequestSyncInput = core.RequestSyncInput
type SyncStepInput = core.SyncStepInput
type SyncStepResult = core.SyncStepResult
type RefreshRunInput = core.RefreshRunInput
type RefreshRunResult = core.RefreshRunResult

var (
	WithLogger                = core.WithLogger
	WithLoggerProvider        = core.WithLoggerProvider
	WithMetricsRecorder       = core.WithMetricsRecorder
	WithErrorFactory          = core.WithErrorFactory
	WithErrorMapper           = core.WithErrorMapper
	WithSecretProvider        = core.WithSecretProvider
	WithPersistenceClient     = core.WithPersistenceClient
	WithStoreFactory          = core.WithStoreFactory
	WithConfigProvider        = core.WithConfigProvider
	WithOptionsResolver       = core.WithOptionsResolver
	WithConnectionLocker      = core.WithConnectionLocker
	WithRetryBackoffScheduler = core.WithRetryBackoffScheduler
	WithRateLimitPolicy       = core.WithRateLimitPolicy
	WithRegistry              = core.WithRegistry
	WithTenantStore           = core.WithTenantStore
	WithTaskStore             = core.WithTaskStore
	WithDirectorySink         = core.WithDirectorySink
	WithCredentialCodec       = core.WithCredentialCodec
	WithLifecycleGate         = core.WithLifecycleGate
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func New(cfg Config, opts ...Option) (*Engine, error) {
	return core.New(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Engine, error) {
	return core.Setup(cfg, opts...)
}
