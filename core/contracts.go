package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// Logger aliases keep call sites decoupled from the logging module.
type (
	Logger         = glog.Logger
	LoggerProvider = glog.LoggerProvider
	FieldsLogger   = glog.FieldsLogger
)

// VendorConnector is the per-integration client the engine drives. Both
// methods must surface non-2xx responses as classifiable errors (see
// NewVendorHTTPError) and must normalize "no next page" into an empty
// NextCursor.
type VendorConnector interface {
	ID() string
	ListPage(ctx context.Context, accessSecret string, cursor string) (Page, error)
	Refresh(ctx context.Context, refreshSecret string) (RefreshedSecrets, error)
}

// RemoteUserDeleter is an optional connector capability used by suspension
// flows. Implementations must treat "already gone" (404) as success.
type RemoteUserDeleter interface {
	DeleteRemoteUser(ctx context.Context, accessSecret string, userID string) error
}

// DirectorySink is the downstream system of record the engine appends to and
// prunes, never reads back for decisions. Upsert is idempotent by record id;
// DeleteStaleBefore removes records last seen strictly before the watermark.
type DirectorySink interface {
	Upsert(ctx context.Context, tenantID string, records []DirectoryRecord) error
	DeleteStaleBefore(ctx context.Context, tenantID string, watermark time.Time) error
	ReportConnectionStatus(ctx context.Context, tenantID string, kind ConnectionErrorKind, metadata map[string]any) error
}

// RotateSecretsInput carries a full secret rotation for one tenant. Secrets
// are ciphertext; the store bumps the secret version on success.
type RotateSecretsInput struct {
	TenantID      string
	AccessSecret  []byte
	RefreshSecret []byte
	ExpiresAt     time.Time
}

// TenantStore persists tenant rows with their encrypted secret columns.
type TenantStore interface {
	Get(ctx context.Context, tenantID string) (Tenant, error)
	Create(ctx context.Context, tenant Tenant) (Tenant, error)
	RotateSecrets(ctx context.Context, input RotateSecretsInput) (Tenant, error)
	UpdateStatus(ctx context.Context, tenantID string, status TenantStatus, reason string) error
	Delete(ctx context.Context, tenantID string) error
}

// SecretProvider encrypts and decrypts credential material at rest.
type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// CredentialCodec serializes token pairs before encryption.
type CredentialCodec interface {
	Format() string
	Version() int
	Encode(pair TokenPair) ([]byte, error)
	Decode(payload []byte) (TokenPair, error)
}

// TaskEnqueuer is the producer half of the durable step queue.
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, task Task) error
}

// TaskStore is the durable step queue. Enqueue must treat a dedup-key
// conflict as a successful replay; ClaimDue atomically moves due pending
// tasks to processing.
type TaskStore interface {
	TaskEnqueuer
	ClaimDue(ctx context.Context, limit int) ([]Task, error)
	Ack(ctx context.Context, taskID string) error
	Retry(ctx context.Context, taskID string, cause error, nextAttemptAt time.Time) error
	Fail(ctx context.Context, taskID string, cause error) error
	CancelByTenant(ctx context.Context, tenantID string, names ...string) (int, error)
}

// RateLimitKey identifies one vendor quota bucket.
type RateLimitKey struct {
	ConnectorID string
	TenantID    string
	BucketKey   string
}

// VendorResponseMeta carries the rate-limit relevant slice of a vendor
// response: status, response headers, and the vendor error code if the body
// carried one.
type VendorResponseMeta struct {
	StatusCode int
	Headers    map[string]string
	VendorCode string
	ReceivedAt time.Time
}

// RateLimitPolicy wraps vendor calls. BeforeCall blocks calls into a bucket
// that is known-throttled; AfterCall ingests response metadata and converts
// throttling signals into scheduled retries.
type RateLimitPolicy interface {
	BeforeCall(ctx context.Context, key RateLimitKey) error
	AfterCall(ctx context.Context, key RateLimitKey, meta VendorResponseMeta, callErr error) error
}

// MetricsRecorder receives engine counters and histograms. The default is a
// no-op recorder.
type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// JobExecutionMessage mirrors the queue transport message without importing
// the queue module into the engine.
type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

// JobNackOptions controls redelivery of a failed queue message.
type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

// JobWorkerEvent is the worker lifecycle notification payload.
type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

// StoreProvider exposes the persistence surface the engine consumes. SQL and
// memory implementations both satisfy it.
type StoreProvider interface {
	TenantStore() TenantStore
	TaskStore() TaskStore
}
