package zone

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DefaultAuditRetention is how many audit records a MemoryStore keeps.
const DefaultAuditRetention = 10000

// MemoryStore is an in-memory zone store for tests and single-process demos.
// Data is lost when the process exits. The audit log keeps only the most
// recent records across all zones.
type MemoryStore struct {
	mu          sync.RWMutex
	zones       map[int64]*Zone
	audit       auditRing
	redirects   []Redirect
	escalations []Escalation
	nextID      int64
	closed      bool
	now         func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithAuditRetention caps the audit log at n records. Default:
// DefaultAuditRetention
func WithAuditRetention(n int) MemoryOption {
	return func(m *MemoryStore) {
		if n > 0 {
			m.audit.limit = n
		}
	}
}

// NewMemoryStore creates a new in-memory zone store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		zones: make(map[int64]*Zone),
		audit: auditRing{limit: DefaultAuditRetention},
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// auditRing overwrites its oldest record once limit is reached.
type auditRing struct {
	buf   []AuditRecord
	next  int
	limit int
}

func (r *auditRing) add(rec AuditRecord) {
	if len(r.buf) < r.limit {
		r.buf = append(r.buf, rec)
		return
	}
	r.buf[r.next] = rec
	r.next = (r.next + 1) % r.limit
}

// newestFirst calls fn on each record from newest to oldest until fn
// returns false.
func (r *auditRing) newestFirst(fn func(AuditRecord) bool) {
	n := len(r.buf)
	for i := 0; i < n; i++ {
		if !fn(r.buf[(r.next-1-i+n)%n]) {
			return
		}
	}
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

// CreateZone implements Store.
func (m *MemoryStore) CreateZone(_ context.Context, name string, areaM2 float64) (Zone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Zone{}, ErrStoreClosed
	}
	for _, z := range m.zones {
		if z.Name == name {
			return Zone{}, ErrDuplicateName
		}
	}

	z := &Zone{ID: m.id(), Name: name, AreaM2: areaM2, UpdatedAt: m.now().UTC()}
	m.zones[z.ID] = z
	return *z, nil
}

// Zone implements Store.
func (m *MemoryStore) Zone(_ context.Context, id int64) (Zone, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Zone{}, ErrStoreClosed
	}
	z, ok := m.zones[id]
	if !ok {
		return Zone{}, ErrNotFound
	}
	return *z, nil
}

// Zones implements Store.
func (m *MemoryStore) Zones(_ context.Context) ([]Zone, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	zones := make([]Zone, 0, len(m.zones))
	for _, z := range m.zones {
		zones = append(zones, *z)
	}
	sort.Slice(zones, func(i, j int) bool { return zones[i].ID < zones[j].ID })
	return zones, nil
}

// SetArea implements Store.
func (m *MemoryStore) SetArea(_ context.Context, id int64, areaM2 float64) error {
	return m.update(id, func(z *Zone) { z.AreaM2 = areaM2 })
}

// ResetCount implements Store.
func (m *MemoryStore) ResetCount(_ context.Context, id int64) error {
	return m.update(id, func(z *Zone) { z.Count = 0 })
}

func (m *MemoryStore) update(id int64, fn func(*Zone)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	z, ok := m.zones[id]
	if !ok {
		return ErrNotFound
	}
	fn(z)
	z.UpdatedAt = m.now().UTC()
	return nil
}

// ApplyEvent implements Store.
func (m *MemoryStore) ApplyEvent(_ context.Context, rec AuditRecord, delta int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrStoreClosed
	}
	z, ok := m.zones[rec.ZoneID]
	if !ok {
		return 0, ErrNotFound
	}

	z.Count = max(0, z.Count+delta)
	z.UpdatedAt = m.now().UTC()

	rec.Processed = true
	m.appendAudit(rec)
	return z.Count, nil
}

// AppendAudit implements Store.
func (m *MemoryStore) AppendAudit(_ context.Context, rec AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if _, ok := m.zones[rec.ZoneID]; !ok {
		return ErrNotFound
	}
	m.appendAudit(rec)
	return nil
}

func (m *MemoryStore) appendAudit(rec AuditRecord) {
	rec.ID = m.id()
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = m.now().UTC()
	}
	m.audit.add(rec)
}

// AuditLog implements Store.
func (m *MemoryStore) AuditLog(_ context.Context, zoneID int64, limit int) ([]AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	var out []AuditRecord
	m.audit.newestFirst(func(rec AuditRecord) bool {
		if rec.ZoneID == zoneID {
			out = append(out, rec)
		}
		return len(out) < limit
	})
	return out, nil
}

// ActiveRedirect implements Store.
func (m *MemoryStore) ActiveRedirect(_ context.Context, fromZoneID int64) (*Redirect, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	if i := m.activeIndex(fromZoneID); i >= 0 {
		r := m.redirects[i]
		return &r, nil
	}
	return nil, nil
}

func (m *MemoryStore) activeIndex(fromZoneID int64) int {
	for i := range m.redirects {
		if m.redirects[i].FromZoneID == fromZoneID && m.redirects[i].Active() {
			return i
		}
	}
	return -1
}

// ActiveRedirects implements Store.
func (m *MemoryStore) ActiveRedirects(_ context.Context) ([]Redirect, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	var out []Redirect
	for i := len(m.redirects) - 1; i >= 0; i-- {
		if m.redirects[i].Active() {
			out = append(out, m.redirects[i])
		}
	}
	return out, nil
}

// CreateRedirect implements Store.
func (m *MemoryStore) CreateRedirect(_ context.Context, fromZoneID, toZoneID int64, attempt int, at time.Time) (Redirect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Redirect{}, ErrStoreClosed
	}
	if m.activeIndex(fromZoneID) >= 0 {
		return Redirect{}, ErrActiveRedirectExists
	}
	return m.insertRedirect(fromZoneID, toZoneID, attempt, at)
}

func (m *MemoryStore) insertRedirect(fromZoneID, toZoneID int64, attempt int, at time.Time) (Redirect, error) {
	if _, ok := m.zones[fromZoneID]; !ok {
		return Redirect{}, ErrNotFound
	}
	if _, ok := m.zones[toZoneID]; !ok {
		return Redirect{}, ErrNotFound
	}
	r := Redirect{
		ID:         m.id(),
		FromZoneID: fromZoneID,
		ToZoneID:   toZoneID,
		CreatedAt:  at.UTC(),
		Attempt:    attempt,
	}
	m.redirects = append(m.redirects, r)
	return r, nil
}

// ClearRedirect implements Store.
func (m *MemoryStore) ClearRedirect(_ context.Context, fromZoneID int64, at time.Time) (*Redirect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	i := m.activeIndex(fromZoneID)
	if i < 0 {
		return nil, nil
	}
	cleared := at.UTC()
	m.redirects[i].ClearedAt = &cleared
	r := m.redirects[i]
	return &r, nil
}

// ReplaceRedirect implements Store.
func (m *MemoryStore) ReplaceRedirect(_ context.Context, fromZoneID, toZoneID int64, attempt int, at time.Time) (Redirect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Redirect{}, ErrStoreClosed
	}
	i := m.activeIndex(fromZoneID)
	if i < 0 {
		return Redirect{}, ErrNoActiveRedirect
	}
	if _, ok := m.zones[toZoneID]; !ok {
		return Redirect{}, ErrNotFound
	}
	cleared := at.UTC()
	m.redirects[i].ClearedAt = &cleared
	return m.insertRedirect(fromZoneID, toZoneID, attempt, at)
}

// CreateEscalation implements Store.
func (m *MemoryStore) CreateEscalation(_ context.Context, zoneID int64, reason string, density float64, at time.Time) (Escalation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Escalation{}, ErrStoreClosed
	}
	if _, ok := m.zones[zoneID]; !ok {
		return Escalation{}, ErrNotFound
	}
	e := Escalation{
		ID:        m.id(),
		ZoneID:    zoneID,
		Reason:    reason,
		Density:   density,
		CreatedAt: at.UTC(),
	}
	m.escalations = append(m.escalations, e)
	return e, nil
}

// OpenEscalation implements Store.
func (m *MemoryStore) OpenEscalation(_ context.Context, zoneID int64) (*Escalation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	for i := len(m.escalations) - 1; i >= 0; i-- {
		e := m.escalations[i]
		if e.ZoneID == zoneID && e.ResolvedAt == nil {
			return &e, nil
		}
	}
	return nil, nil
}

// RecentEscalations implements Store.
func (m *MemoryStore) RecentEscalations(_ context.Context, limit int) ([]Escalation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		limit = defaultEscalationLimit
	}
	var out []Escalation
	for i := len(m.escalations) - 1; i >= 0; i-- {
		if len(out) >= limit {
			break
		}
		if m.escalations[i].ResolvedAt == nil {
			out = append(out, m.escalations[i])
		}
	}
	return out, nil
}

// ResolveEscalation implements Store.
func (m *MemoryStore) ResolveEscalation(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	for i := range m.escalations {
		if m.escalations[i].ID == id && m.escalations[i].ResolvedAt == nil {
			resolved := at.UTC()
			m.escalations[i].ResolvedAt = &resolved
			return nil
		}
	}
	return ErrNotFound
}

// Ping implements Store.
func (m *MemoryStore) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)
