package devkit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-dirsync/core"
)

// PageScript is one scripted ListPage outcome, keyed by the cursor the
// engine presents.
type PageScript struct {
	Page core.Page
	Err  error
}

// RefreshScript is one scripted Refresh outcome. Outcomes are consumed in
// order, the last one repeating.
type RefreshScript struct {
	Secrets core.RefreshedSecrets
	Err     error
}

// ConnectorCall records one vendor call made through the fixture.
type ConnectorCall struct {
	Method string
	Secret string
	Cursor string
	UserID string
	At     time.Time
}

// ScriptedConnectorFixture is a deterministic vendor connector for engine and
// connector-contract tests. Pages are keyed by cursor; refresh outcomes are
// consumed as a queue.
type ScriptedConnectorFixture struct {
	mu        sync.Mutex
	id        string
	pages     map[string]PageScript
	refreshes []RefreshScript
	deleteErr map[string]error
	calls     []ConnectorCall
	now       func() time.Time
}

func NewScriptedConnectorFixture(id string) *ScriptedConnectorFixture {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		trimmed = "devkit-connector"
	}
	return &ScriptedConnectorFixture{
		id:        trimmed,
		pages:     map[string]PageScript{},
		deleteErr: map[string]error{},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ScriptPage registers the outcome returned when ListPage is called with the
// given cursor. The empty cursor scripts the first page.
func (c *ScriptedConnectorFixture) ScriptPage(cursor string, script PageScript) *ScriptedConnectorFixture {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages[core.NormalizeCursor(cursor)] = script
	return c
}

// ScriptRefresh appends a refresh outcome to the queue.
func (c *ScriptedConnectorFixture) ScriptRefresh(script RefreshScript) *ScriptedConnectorFixture {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshes = append(c.refreshes, script)
	return c
}

// ScriptDeleteError makes DeleteRemoteUser fail for the given user id.
func (c *ScriptedConnectorFixture) ScriptDeleteError(userID string, err error) *ScriptedConnectorFixture {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteErr[strings.TrimSpace(userID)] = err
	return c
}

func (c *ScriptedConnectorFixture) ID() string {
	return c.id
}

func (c *ScriptedConnectorFixture) ListPage(ctx context.Context, accessSecret string, cursor string) (core.Page, error) {
	if err := ctx.Err(); err != nil {
		return core.Page{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	normalized := core.NormalizeCursor(cursor)
	c.calls = append(c.calls, ConnectorCall{
		Method: "list_page",
		Secret: accessSecret,
		Cursor: normalized,
		At:     c.now(),
	})
	script, ok := c.pages[normalized]
	if !ok {
		return core.Page{}, fmt.Errorf("devkit: no page scripted for cursor %q", normalized)
	}
	if script.Err != nil {
		return core.Page{}, script.Err
	}
	page := script.Page
	page.NextCursor = core.NormalizeCursor(page.NextCursor)
	return page, nil
}

func (c *ScriptedConnectorFixture) Refresh(ctx context.Context, refreshSecret string) (core.RefreshedSecrets, error) {
	if err := ctx.Err(); err != nil {
		return core.RefreshedSecrets{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, ConnectorCall{
		Method: "refresh",
		Secret: refreshSecret,
		At:     c.now(),
	})
	if len(c.refreshes) == 0 {
		return core.RefreshedSecrets{}, fmt.Errorf("devkit: no refresh outcome scripted")
	}
	script := c.refreshes[0]
	if len(c.refreshes) > 1 {
		c.refreshes = c.refreshes[1:]
	}
	if script.Err != nil {
		return core.RefreshedSecrets{}, script.Err
	}
	return script.Secrets, nil
}

func (c *ScriptedConnectorFixture) DeleteRemoteUser(ctx context.Context, accessSecret string, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	trimmed := strings.TrimSpace(userID)
	c.calls = append(c.calls, ConnectorCall{
		Method: "delete_remote_user",
		Secret: accessSecret,
		UserID: trimmed,
		At:     c.now(),
	})
	return c.deleteErr[trimmed]
}

// Calls returns the recorded vendor calls in order.
func (c *ScriptedConnectorFixture) Calls() []ConnectorCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ConnectorCall(nil), c.calls...)
}

// CallsTo returns the recorded calls for one method.
func (c *ScriptedConnectorFixture) CallsTo(method string) []ConnectorCall {
	out := []ConnectorCall{}
	for _, call := range c.Calls() {
		if call.Method == method {
			out = append(out, call)
		}
	}
	return out
}

// StatusReport is one connection-status report captured by the sink fixture.
type StatusReport struct {
	TenantID string
	Kind     core.ConnectionErrorKind
	Metadata map[string]any
}

// StaleDelete is one prune call captured by the sink fixture.
type StaleDelete struct {
	TenantID  string
	Watermark time.Time
}

// RecordingSinkFixture is an in-memory directory sink that records every
// write so tests can assert on ordering and content.
type RecordingSinkFixture struct {
	mu        sync.Mutex
	records   map[string]map[string]core.DirectoryRecord
	upserts   [][]core.DirectoryRecord
	deletes   []StaleDelete
	reports   []StatusReport
	upsertErr error
	deleteErr error
	reportErr error
}

func NewRecordingSinkFixture() *RecordingSinkFixture {
	return &RecordingSinkFixture{
		records: map[string]map[string]core.DirectoryRecord{},
	}
}

// FailUpserts makes every subsequent Upsert return the given error.
func (s *RecordingSinkFixture) FailUpserts(err error) *RecordingSinkFixture {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertErr = err
	return s
}

// FailDeletes makes every subsequent DeleteStaleBefore return the given error.
func (s *RecordingSinkFixture) FailDeletes(err error) *RecordingSinkFixture {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteErr = err
	return s
}

// FailReports makes every subsequent ReportConnectionStatus return the given
// error.
func (s *RecordingSinkFixture) FailReports(err error) *RecordingSinkFixture {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reportErr = err
	return s
}

func (s *RecordingSinkFixture) Upsert(_ context.Context, tenantID string, records []core.DirectoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	byID, ok := s.records[tenantID]
	if !ok {
		byID = map[string]core.DirectoryRecord{}
		s.records[tenantID] = byID
	}
	for _, record := range records {
		byID[record.ID] = record
	}
	s.upserts = append(s.upserts, append([]core.DirectoryRecord(nil), records...))
	return nil
}

func (s *RecordingSinkFixture) DeleteStaleBefore(_ context.Context, tenantID string, watermark time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deletes = append(s.deletes, StaleDelete{TenantID: tenantID, Watermark: watermark})
	return nil
}

func (s *RecordingSinkFixture) ReportConnectionStatus(_ context.Context, tenantID string, kind core.ConnectionErrorKind, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reportErr != nil {
		return s.reportErr
	}
	cloned := make(map[string]any, len(metadata))
	for key, value := range metadata {
		cloned[key] = value
	}
	s.reports = append(s.reports, StatusReport{TenantID: tenantID, Kind: kind, Metadata: cloned})
	return nil
}

// Records returns the merged directory view for one tenant.
func (s *RecordingSinkFixture) Records(tenantID string) []core.DirectoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.DirectoryRecord, 0, len(s.records[tenantID]))
	for _, record := range s.records[tenantID] {
		out = append(out, record)
	}
	return out
}

// Upserts returns every Upsert batch in call order.
func (s *RecordingSinkFixture) Upserts() [][]core.DirectoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]core.DirectoryRecord, 0, len(s.upserts))
	for _, batch := range s.upserts {
		out = append(out, append([]core.DirectoryRecord(nil), batch...))
	}
	return out
}

// Deletes returns every prune call in order.
func (s *RecordingSinkFixture) Deletes() []StaleDelete {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StaleDelete(nil), s.deletes...)
}

// Reports returns every connection-status report in order.
func (s *RecordingSinkFixture) Reports() []StatusReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StatusReport(nil), s.reports...)
}

var (
	_ core.VendorConnector   = (*ScriptedConnectorFixture)(nil)
	_ core.RemoteUserDeleter = (*ScriptedConnectorFixture)(nil)
	_ core.DirectorySink     = (*RecordingSinkFixture)(nil)
)
