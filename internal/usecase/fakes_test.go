package usecase

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/CharbellTrad/biometric-service/internal/core/domain"
	"github.com/CharbellTrad/biometric-service/internal/core/port"
	"github.com/CharbellTrad/biometric-service/internal/repository"
)

type fakeDeviceRepository struct {
	mu      sync.Mutex
	devices map[string]*domain.Device

	markUsedErrs []error
	markUsed     int
	getErr       error
}

func newFakeDeviceRepository(devices ...domain.Device) *fakeDeviceRepository {
	repo := &fakeDeviceRepository{devices: make(map[string]*domain.Device)}
	for i := range devices {
		d := devices[i]
		repo.devices[d.ID] = &d
	}
	return repo
}

func (f *fakeDeviceRepository) Upsert(_ context.Context, device domain.Device) (*domain.Device, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.devices {
		if existing.OwnerID != device.OwnerID || existing.DeviceUUID != device.DeviceUUID {
			continue
		}
		existing.DeviceName = device.DeviceName
		if device.OSVersion != nil {
			existing.OSVersion = device.OSVersion
		}
		existing.BiometricType = device.BiometricType
		existing.BiometricLabel = device.BiometricLabel
		at := device.EnrolledAt
		existing.LastUsedAt = &at
		existing.State = domain.DeviceStateActive
		existing.IsEnabled = true
		existing.Archived = false
		copy := *existing
		return &copy, false, nil
	}
	stored := device
	f.devices[device.ID] = &stored
	copy := stored
	return &copy, true, nil
}

func (f *fakeDeviceRepository) GetByID(_ context.Context, id string) (*domain.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	d, ok := f.devices[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *d
	return &copy, nil
}

func (f *fakeDeviceRepository) GetByUUID(_ context.Context, ownerID, deviceUUID string) (*domain.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.devices {
		if d.OwnerID == ownerID && d.DeviceUUID == deviceUUID {
			copy := *d
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeDeviceRepository) FindActive(_ context.Context, ownerID string, lookup port.DeviceLookup) (*domain.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	candidates := make([]domain.Device, 0)
	for _, d := range f.devices {
		if d.OwnerID != ownerID || d.State != domain.DeviceStateActive {
			continue
		}
		if lookup.DeviceUUID != "" && d.DeviceUUID != lookup.DeviceUUID {
			continue
		}
		if lookup.Platform != "" && string(d.Platform) != lookup.Platform {
			continue
		}
		candidates = append(candidates, *d)
	}
	if len(candidates) == 0 {
		return nil, repository.ErrNotFound
	}
	sortByRecentUse(candidates)
	return &candidates[0], nil
}

func (f *fakeDeviceRepository) ListByOwner(_ context.Context, ownerID string) ([]domain.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make([]domain.Device, 0)
	for _, d := range f.devices {
		if d.OwnerID != ownerID || d.State == domain.DeviceStateRevoked || d.Archived {
			continue
		}
		result = append(result, *d)
	}
	sortByRecentUse(result)
	return result, nil
}

func (f *fakeDeviceRepository) UpdateState(_ context.Context, device domain.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.devices[device.ID]
	if !ok {
		return repository.ErrNotFound
	}
	existing.State = device.State
	existing.IsEnabled = device.IsEnabled
	existing.RevokedAt = device.RevokedAt
	existing.RevokedBy = device.RevokedBy
	return nil
}

func (f *fakeDeviceRepository) MarkUsed(_ context.Context, id string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markUsed++
	if len(f.markUsedErrs) > 0 {
		err := f.markUsedErrs[0]
		f.markUsedErrs = f.markUsedErrs[1:]
		if err != nil {
			return false, err
		}
	}
	d, ok := f.devices[id]
	if !ok || d.State == domain.DeviceStateRevoked {
		return false, nil
	}
	if d.LastUsedAt == nil || at.After(*d.LastUsedAt) {
		stamp := at
		d.LastUsedAt = &stamp
	}
	d.State = domain.DeviceStateActive
	return true, nil
}

func (f *fakeDeviceRepository) SetArchived(_ context.Context, id string, archived bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[id]
	if !ok {
		return repository.ErrNotFound
	}
	d.Archived = archived
	return nil
}

func (f *fakeDeviceRepository) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.devices[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.devices, id)
	return nil
}

func (f *fakeDeviceRepository) DeleteByOwner(_ context.Context, ownerID string) ([]domain.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	deleted := make([]domain.Device, 0)
	for id, d := range f.devices {
		if d.OwnerID == ownerID {
			deleted = append(deleted, *d)
			delete(f.devices, id)
		}
	}
	return deleted, nil
}

func (f *fakeDeviceRepository) device(id string) domain.Device {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.devices[id]
}

func sortByRecentUse(devices []domain.Device) {
	sort.SliceStable(devices, func(i, j int) bool {
		a, b := devices[i].LastUsedAt, devices[j].LastUsedAt
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return devices[i].EnrolledAt.After(devices[j].EnrolledAt)
	})
}

type fakeAuthLogRepository struct {
	mu        sync.Mutex
	entries   []domain.AuthLogEntry
	createErr error
	listErr   error
}

func (f *fakeAuthLogRepository) Create(_ context.Context, entry domain.AuthLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAuthLogRepository) matching(filter domain.AuthLogFilter) []int {
	idx := make([]int, 0)
	for i, e := range f.entries {
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		if filter.DeviceID != nil && (e.DeviceID == nil || *e.DeviceID != *filter.DeviceID) {
			continue
		}
		if filter.SessionID != nil && (e.SessionID == nil || *e.SessionID != *filter.SessionID) {
			continue
		}
		if filter.SessionActive != nil && e.SessionActive != *filter.SessionActive {
			continue
		}
		if filter.Success != nil && e.Success != *filter.Success {
			continue
		}
		idx = append(idx, i)
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return f.entries[idx[a]].AuthDate.After(f.entries[idx[b]].AuthDate)
	})
	return idx
}

func (f *fakeAuthLogRepository) Count(_ context.Context, filter domain.AuthLogFilter) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.matching(filter)), nil
}

func (f *fakeAuthLogRepository) List(_ context.Context, filter domain.AuthLogFilter, limit, offset int) ([]domain.AuthLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	idx := f.matching(filter)
	if offset >= len(idx) {
		return []domain.AuthLogEntry{}, nil
	}
	idx = idx[offset:]
	if limit > 0 && limit < len(idx) {
		idx = idx[:limit]
	}
	result := make([]domain.AuthLogEntry, 0, len(idx))
	for _, i := range idx {
		result = append(result, f.entries[i])
	}
	return result, nil
}

func (f *fakeAuthLogRepository) EndSessions(_ context.Context, filter domain.AuthLogFilter, at time.Time) (int, []string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	seen := map[string]struct{}{}
	sessions := make([]string, 0)
	for _, i := range f.matching(filter) {
		if !f.entries[i].EndSession(at) {
			continue
		}
		count++
		if sid := f.entries[i].SessionID; sid != nil && *sid != "" {
			if _, ok := seen[*sid]; !ok {
				seen[*sid] = struct{}{}
				sessions = append(sessions, *sid)
			}
		}
	}
	return count, sessions, nil
}

func (f *fakeAuthLogRepository) StatsForDevice(_ context.Context, deviceID string) (domain.AuthStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statsLocked(deviceID), nil
}

func (f *fakeAuthLogRepository) StatsForDevices(_ context.Context, ids []string) (map[string]domain.AuthStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make(map[string]domain.AuthStats, len(ids))
	for _, id := range ids {
		result[id] = f.statsLocked(id)
	}
	return result, nil
}

func (f *fakeAuthLogRepository) statsLocked(deviceID string) domain.AuthStats {
	var stats domain.AuthStats
	for _, e := range f.entries {
		if e.DeviceID == nil || *e.DeviceID != deviceID {
			continue
		}
		stats.Total++
		at := e.AuthDate
		if stats.LastAuth == nil || at.After(*stats.LastAuth) {
			stats.LastAuth = &at
		}
		if e.Success {
			stats.Successful++
			if stats.LastSuccess == nil || at.After(*stats.LastSuccess) {
				stats.LastSuccess = &at
			}
		}
	}
	return stats
}

func (f *fakeAuthLogRepository) all() []domain.AuthLogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.AuthLogEntry(nil), f.entries...)
}

type fakeAuditRepository struct {
	events []domain.DeviceAuditEvent
}

func (f *fakeAuditRepository) Append(_ context.Context, event domain.DeviceAuditEvent) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAuditRepository) ListByDevice(_ context.Context, deviceID string) ([]domain.DeviceAuditEvent, error) {
	result := make([]domain.DeviceAuditEvent, 0)
	for _, e := range f.events {
		if e.DeviceID == deviceID {
			result = append(result, e)
		}
	}
	return result, nil
}

type recordingPublisher struct {
	lifecycle []domain.DeviceLifecycleEvent
	logged    []domain.AuthLoggedEvent
	ended     []domain.SessionEndedEvent
	err       error
}

func (p *recordingPublisher) PublishDeviceLifecycle(_ context.Context, event domain.DeviceLifecycleEvent) error {
	p.lifecycle = append(p.lifecycle, event)
	return p.err
}

func (p *recordingPublisher) PublishAuthLogged(_ context.Context, event domain.AuthLoggedEvent) error {
	p.logged = append(p.logged, event)
	return p.err
}

func (p *recordingPublisher) PublishSessionEnded(_ context.Context, event domain.SessionEndedEvent) error {
	p.ended = append(p.ended, event)
	return p.err
}

type stubTerminationStore struct {
	marked map[string]string
	err    error
}

func (s *stubTerminationStore) MarkSessionEnded(_ context.Context, sessionID, reason string, _ time.Duration) error {
	if s.err != nil {
		return s.err
	}
	if s.marked == nil {
		s.marked = make(map[string]string)
	}
	s.marked[sessionID] = reason
	return nil
}

func (s *stubTerminationStore) IsSessionEnded(_ context.Context, sessionID string) (bool, string, error) {
	if s.err != nil {
		return false, "", s.err
	}
	reason, ok := s.marked[sessionID]
	return ok, reason, nil
}

type countingMetrics struct {
	attempts map[string]int
	ended    int
}

func (m *countingMetrics) ObserveAttempt(authType string, success bool) {
	if m.attempts == nil {
		m.attempts = make(map[string]int)
	}
	key := authType + ":failure"
	if success {
		key = authType + ":success"
	}
	m.attempts[key]++
}

func (m *countingMetrics) ObserveSessionsEnded(count int) {
	m.ended += count
}

type sequenceIDs struct {
	prefix string
	next   int
}

func (s *sequenceIDs) id() string {
	s.next++
	return s.prefix + "-" + strconv.Itoa(s.next)
}

func stringPtr(value string) *string { return &value }

