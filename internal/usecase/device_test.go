package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/CharbellTrad/biometric-service/internal/core/domain"
)

var deviceTestNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

type deviceFixture struct {
	service *DeviceService
	devices *fakeDeviceRepository
	logs    *fakeAuthLogRepository
	audit   *fakeAuditRepository
	events  *recordingPublisher
	now     time.Time
}

func newDeviceFixture(t *testing.T, devices ...domain.Device) *deviceFixture {
	t.Helper()
	f := &deviceFixture{
		devices: newFakeDeviceRepository(devices...),
		logs:    &fakeAuthLogRepository{},
		audit:   &fakeAuditRepository{},
		events:  &recordingPublisher{},
		now:     deviceTestNow,
	}
	f.service = NewDeviceService(f.devices, f.logs, f.audit, f.events, zaptest.NewLogger(t))
	f.service.WithClock(func() time.Time { return f.now })
	ids := &sequenceIDs{prefix: "dev"}
	f.service.newID = ids.id
	return f
}

func sampleRegistration(owner, uuid string) domain.DeviceRegistration {
	osVersion := "17.4"
	return domain.DeviceRegistration{
		OwnerID:       owner,
		DeviceUUID:    uuid,
		DeviceName:    "Charbel's iPhone",
		Platform:      domain.PlatformIOS,
		BiometricType: domain.BiometricFacialRecognition,
		OSVersion:     &osVersion,
	}
}

func TestDeviceService_RegisterDeviceCreatesActiveDevice(t *testing.T) {
	f := newDeviceFixture(t)

	view, err := f.service.RegisterDevice(context.Background(), sampleRegistration("user-1", "uuid-a"))
	if err != nil {
		t.Fatalf("RegisterDevice returned error: %v", err)
	}
	if view.State != string(domain.DeviceStateActive) || !view.IsEnabled {
		t.Fatalf("expected active enabled device, got state=%s enabled=%v", view.State, view.IsEnabled)
	}
	if !view.IsPhysicalDevice {
		t.Fatalf("expected physical device by default")
	}
	if view.LastUsedAt != nil {
		t.Fatalf("expected no last use on first enrolment, got %v", *view.LastUsedAt)
	}
	if view.DaysSinceLastUse != -1 {
		t.Fatalf("expected days since last use -1, got %d", view.DaysSinceLastUse)
	}
	if len(f.audit.events) != 1 || f.audit.events[0].Kind != domain.DeviceAuditRegistered {
		t.Fatalf("expected a registered audit event, got %+v", f.audit.events)
	}
	if len(f.events.lifecycle) != 1 || f.events.lifecycle[0].Kind != domain.DeviceAuditRegistered {
		t.Fatalf("expected a registered lifecycle event, got %+v", f.events.lifecycle)
	}
}

func TestDeviceService_RegisterDeviceReenrolsExistingPair(t *testing.T) {
	f := newDeviceFixture(t)
	ctx := context.Background()

	first, err := f.service.RegisterDevice(ctx, sampleRegistration("user-1", "uuid-a"))
	if err != nil {
		t.Fatalf("first RegisterDevice: %v", err)
	}
	caller := domain.Caller{UserID: "user-1"}
	if err := f.service.RevokeDevice(ctx, caller, first.ID); err != nil {
		t.Fatalf("RevokeDevice: %v", err)
	}

	f.now = f.now.Add(time.Hour)
	reg := sampleRegistration("user-1", "uuid-a")
	reg.DeviceName = "Renamed phone"
	reg.OSVersion = nil
	second, err := f.service.RegisterDevice(ctx, reg)
	if err != nil {
		t.Fatalf("second RegisterDevice: %v", err)
	}

	if second.ID != first.ID {
		t.Fatalf("expected re-enrolment to keep id %s, got %s", first.ID, second.ID)
	}
	if second.DeviceName != "Renamed phone" {
		t.Fatalf("expected refreshed name, got %s", second.DeviceName)
	}
	if second.OSVersion == nil || *second.OSVersion != "17.4" {
		t.Fatalf("expected os version to be kept, got %v", second.OSVersion)
	}
	if second.State != string(domain.DeviceStateActive) {
		t.Fatalf("expected re-enrolment to force active state, got %s", second.State)
	}
	if second.LastUsedAt == nil {
		t.Fatalf("expected re-enrolment to stamp last use")
	}
	if len(f.devices.devices) != 1 {
		t.Fatalf("expected a single stored device, got %d", len(f.devices.devices))
	}
	if last := f.audit.events[len(f.audit.events)-1]; last.Kind != domain.DeviceAuditReenrolled {
		t.Fatalf("expected reenrolled audit event, got %s", last.Kind)
	}
}

func TestDeviceService_RegisterDeviceValidation(t *testing.T) {
	f := newDeviceFixture(t)

	cases := map[string]func(*domain.DeviceRegistration){
		"missing uuid":      func(r *domain.DeviceRegistration) { r.DeviceUUID = "" },
		"missing name":      func(r *domain.DeviceRegistration) { r.DeviceName = "  " },
		"missing platform":  func(r *domain.DeviceRegistration) { r.Platform = "" },
		"missing biometric": func(r *domain.DeviceRegistration) { r.BiometricType = "" },
		"bad platform":      func(r *domain.DeviceRegistration) { r.Platform = "windows" },
		"bad biometric":     func(r *domain.DeviceRegistration) { r.BiometricType = "voice" },
		"bad device info":   func(r *domain.DeviceRegistration) { r.DeviceInfo = []byte("{") },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			reg := sampleRegistration("user-1", "uuid-a")
			mutate(&reg)
			if _, err := f.service.RegisterDevice(context.Background(), reg); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
	if len(f.devices.devices) != 0 {
		t.Fatalf("expected nothing stored on validation failure")
	}
}

func TestDeviceService_ListDevicesExcludesRevokedAndOrdersByUse(t *testing.T) {
	older := deviceTestNow.Add(-48 * time.Hour)
	recent := deviceTestNow.Add(-2 * time.Hour)
	f := newDeviceFixture(t,
		domain.Device{ID: "d-old", OwnerID: "user-1", DeviceUUID: "u-old", DeviceName: "Tablet", Platform: domain.PlatformAndroid, State: domain.DeviceStateActive, IsEnabled: true, EnrolledAt: older, LastUsedAt: &older},
		domain.Device{ID: "d-new", OwnerID: "user-1", DeviceUUID: "u-new", DeviceName: "Phone", Platform: domain.PlatformIOS, State: domain.DeviceStateActive, IsEnabled: true, EnrolledAt: older, LastUsedAt: &recent},
		domain.Device{ID: "d-never", OwnerID: "user-1", DeviceUUID: "u-never", DeviceName: "Laptop", Platform: domain.PlatformWeb, State: domain.DeviceStateInactive, EnrolledAt: recent},
		domain.Device{ID: "d-revoked", OwnerID: "user-1", DeviceUUID: "u-rev", DeviceName: "Lost", Platform: domain.PlatformIOS, State: domain.DeviceStateRevoked, EnrolledAt: older},
		domain.Device{ID: "d-other", OwnerID: "user-2", DeviceUUID: "u-new", DeviceName: "Someone else", Platform: domain.PlatformIOS, State: domain.DeviceStateActive, EnrolledAt: older},
	)
	deviceID := "d-new"
	f.logs.entries = []domain.AuthLogEntry{
		{ID: "l1", UserID: "user-1", DeviceID: &deviceID, AuthDate: recent, Success: true},
		{ID: "l2", UserID: "user-1", DeviceID: &deviceID, AuthDate: recent.Add(-time.Hour), Success: false},
		{ID: "l3", UserID: "user-1", DeviceID: &deviceID, AuthDate: recent.Add(-2 * time.Hour), Success: true},
	}

	views, err := f.service.ListDevices(context.Background(), "user-1", "u-new")
	if err != nil {
		t.Fatalf("ListDevices returned error: %v", err)
	}

	got := make([]string, 0, len(views))
	for _, v := range views {
		got = append(got, v.ID)
	}
	want := []string{"d-new", "d-old", "d-never"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}

	phone := views[0]
	if !phone.IsCurrentDevice || phone.AuthCount != 2 || !phone.IsRecentlyUsed || phone.DaysSinceLastUse != 0 {
		t.Fatalf("unexpected phone view: %+v", phone)
	}
	if views[1].IsCurrentDevice || views[1].IsRecentlyUsed || views[1].DaysSinceLastUse != 2 {
		t.Fatalf("unexpected tablet view: %+v", views[1])
	}
	if views[2].DaysSinceLastUse != -1 || views[2].IsStale {
		t.Fatalf("unexpected never-used view: %+v", views[2])
	}
}

func TestDeviceService_RevokeTwiceFailsWithStateError(t *testing.T) {
	f := newDeviceFixture(t, domain.Device{ID: "d1", OwnerID: "user-1", DeviceUUID: "u1", DeviceName: "Phone", Platform: domain.PlatformIOS, State: domain.DeviceStateActive, IsEnabled: true, EnrolledAt: deviceTestNow})
	caller := domain.Caller{UserID: "user-1"}

	if err := f.service.RevokeDevice(context.Background(), caller, "d1"); err != nil {
		t.Fatalf("RevokeDevice returned error: %v", err)
	}
	stored := f.devices.device("d1")
	if stored.State != domain.DeviceStateRevoked || stored.IsEnabled || stored.RevokedAt == nil || stored.RevokedBy == nil || *stored.RevokedBy != "user-1" {
		t.Fatalf("unexpected revoked device: %+v", stored)
	}

	if err := f.service.RevokeDevice(context.Background(), caller, "d1"); !errors.Is(err, domain.ErrState) {
		t.Fatalf("expected state error on second revoke, got %v", err)
	}
}

func TestDeviceService_OwnershipIsEnforced(t *testing.T) {
	f := newDeviceFixture(t, domain.Device{ID: "d1", OwnerID: "user-1", DeviceUUID: "u1", DeviceName: "Phone", Platform: domain.PlatformIOS, State: domain.DeviceStateActive, EnrolledAt: deviceTestNow})
	intruder := domain.Caller{UserID: "user-2"}

	if err := f.service.RevokeDevice(context.Background(), intruder, "d1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for foreign device, got %v", err)
	}
	if _, err := f.service.GetDevice(context.Background(), intruder, "d1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for foreign device, got %v", err)
	}
	if err := f.service.DeleteDevice(context.Background(), intruder, "d1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for foreign device, got %v", err)
	}
	if f.devices.device("d1").State != domain.DeviceStateActive {
		t.Fatalf("foreign caller must not change the device")
	}
}

func TestDeviceService_ActivateDevice(t *testing.T) {
	revokedAt := deviceTestNow.Add(-time.Hour)
	revokedBy := "user-1"
	f := newDeviceFixture(t,
		domain.Device{ID: "d1", OwnerID: "user-1", DeviceUUID: "u1", State: domain.DeviceStateRevoked, RevokedAt: &revokedAt, RevokedBy: &revokedBy, EnrolledAt: deviceTestNow},
		domain.Device{ID: "d2", OwnerID: "user-1", DeviceUUID: "u2", State: domain.DeviceStateActive, IsEnabled: true, EnrolledAt: deviceTestNow},
	)
	caller := domain.Caller{UserID: "user-1"}

	if err := f.service.ActivateDevice(context.Background(), caller, "d1"); err != nil {
		t.Fatalf("ActivateDevice returned error: %v", err)
	}
	stored := f.devices.device("d1")
	if stored.State != domain.DeviceStateActive || !stored.IsEnabled {
		t.Fatalf("expected active enabled device, got %+v", stored)
	}
	if stored.RevokedAt == nil {
		t.Fatalf("expected revocation history to be kept")
	}

	if err := f.service.ActivateDevice(context.Background(), caller, "d2"); !errors.Is(err, domain.ErrState) {
		t.Fatalf("expected state error activating an active device, got %v", err)
	}
}

func TestDeviceService_UpdateLastUsed(t *testing.T) {
	f := newDeviceFixture(t,
		domain.Device{ID: "d1", OwnerID: "user-1", State: domain.DeviceStateInactive, EnrolledAt: deviceTestNow},
		domain.Device{ID: "d2", OwnerID: "user-1", State: domain.DeviceStateRevoked, EnrolledAt: deviceTestNow},
	)

	if err := f.service.UpdateLastUsed(context.Background(), "d1"); err != nil {
		t.Fatalf("UpdateLastUsed returned error: %v", err)
	}
	stored := f.devices.device("d1")
	if stored.State != domain.DeviceStateActive || stored.LastUsedAt == nil || !stored.LastUsedAt.Equal(deviceTestNow) {
		t.Fatalf("unexpected device after use: %+v", stored)
	}

	if err := f.service.UpdateLastUsed(context.Background(), "d2"); !errors.Is(err, domain.ErrState) {
		t.Fatalf("expected state error for revoked device, got %v", err)
	}
	if f.devices.device("d2").LastUsedAt != nil {
		t.Fatalf("revoked device must not be stamped")
	}

	if err := f.service.UpdateLastUsed(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeviceService_DeleteDeviceKeepsHistorySnapshot(t *testing.T) {
	f := newDeviceFixture(t, domain.Device{ID: "d1", OwnerID: "user-1", DeviceUUID: "u1", DeviceName: "Phone", Platform: domain.PlatformIOS, State: domain.DeviceStateActive, EnrolledAt: deviceTestNow})
	deviceID := "d1"
	f.logs.entries = []domain.AuthLogEntry{{ID: "l1", UserID: "user-1", DeviceID: &deviceID, DeviceName: "Phone", DevicePlatform: "ios", AuthDate: deviceTestNow, Success: true}}

	if err := f.service.DeleteDevice(context.Background(), domain.Caller{UserID: "user-1"}, "d1"); err != nil {
		t.Fatalf("DeleteDevice returned error: %v", err)
	}
	if _, ok := f.devices.devices["d1"]; ok {
		t.Fatalf("expected device to be removed")
	}
	entries := f.logs.all()
	if len(entries) != 1 || entries[0].DeviceName != "Phone" || entries[0].DevicePlatform != "ios" {
		t.Fatalf("expected history snapshot to survive, got %+v", entries)
	}
	if last := f.events.lifecycle[len(f.events.lifecycle)-1]; last.Kind != domain.DeviceAuditDeleted {
		t.Fatalf("expected deleted lifecycle event, got %s", last.Kind)
	}
}

func TestDeviceService_ArchiveDeviceHidesFromList(t *testing.T) {
	f := newDeviceFixture(t, domain.Device{ID: "d1", OwnerID: "user-1", DeviceUUID: "u1", State: domain.DeviceStateActive, EnrolledAt: deviceTestNow})
	caller := domain.Caller{UserID: "user-1"}

	if err := f.service.ArchiveDevice(context.Background(), caller, "d1", true); err != nil {
		t.Fatalf("ArchiveDevice returned error: %v", err)
	}
	views, err := f.service.ListDevices(context.Background(), "user-1", "")
	if err != nil {
		t.Fatalf("ListDevices returned error: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("expected archived device to be hidden, got %d", len(views))
	}
	if f.devices.device("d1").State != domain.DeviceStateActive {
		t.Fatalf("archiving must not change state")
	}
}

func TestDeviceService_DeleteDevicesForOwner(t *testing.T) {
	f := newDeviceFixture(t,
		domain.Device{ID: "d1", OwnerID: "user-1", EnrolledAt: deviceTestNow},
		domain.Device{ID: "d2", OwnerID: "user-1", EnrolledAt: deviceTestNow},
		domain.Device{ID: "d3", OwnerID: "user-2", EnrolledAt: deviceTestNow},
	)

	count, err := f.service.DeleteDevicesForOwner(context.Background(), "user-1", "identity")
	if err != nil {
		t.Fatalf("DeleteDevicesForOwner returned error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 deleted devices, got %d", count)
	}
	if len(f.devices.devices) != 1 {
		t.Fatalf("expected only the other user's device to remain")
	}
	if len(f.audit.events) != 2 {
		t.Fatalf("expected an audit event per deleted device, got %d", len(f.audit.events))
	}
}

func TestDeviceService_StorageFailureIsWrapped(t *testing.T) {
	f := newDeviceFixture(t)
	f.devices.getErr = errors.New("connection reset")

	_, err := f.service.GetDevice(context.Background(), domain.Caller{UserID: "user-1"}, "d1")
	if !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestDeviceService_GetDeviceCountsSuccessfulAuths(t *testing.T) {
	f := newDeviceFixture(t, domain.Device{ID: "d1", OwnerID: "user-1", DeviceUUID: "u1", DeviceName: "Phone", Platform: domain.PlatformIOS, State: domain.DeviceStateActive, IsEnabled: true, EnrolledAt: deviceTestNow})
	deviceID := "d1"
	f.logs.entries = []domain.AuthLogEntry{
		{ID: "l1", UserID: "user-1", DeviceID: &deviceID, AuthDate: deviceTestNow.Add(-2 * time.Hour), Success: false},
		{ID: "l2", UserID: "user-1", DeviceID: &deviceID, AuthDate: deviceTestNow.Add(-time.Hour), Success: true},
	}

	view, err := f.service.GetDevice(context.Background(), domain.Caller{UserID: "user-1"}, "d1")
	if err != nil {
		t.Fatalf("GetDevice returned error: %v", err)
	}
	if view.ID != "d1" || view.AuthCount != 1 {
		t.Fatalf("expected one successful auth on d1, got %+v", view)
	}
	if view.IsCurrentDevice {
		t.Fatalf("single device lookups never flag the current device")
	}

	if _, err := f.service.GetDevice(context.Background(), domain.Caller{UserID: "user-1"}, " "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for blank id, got %v", err)
	}
}

func TestDeviceService_AuditTrailRecordsMutations(t *testing.T) {
	f := newDeviceFixture(t)
	caller := domain.Caller{UserID: "user-1"}

	view, err := f.service.RegisterDevice(context.Background(), sampleRegistration("user-1", "uuid-a"))
	if err != nil {
		t.Fatalf("RegisterDevice returned error: %v", err)
	}
	if err := f.service.RevokeDevice(context.Background(), caller, view.ID); err != nil {
		t.Fatalf("RevokeDevice returned error: %v", err)
	}

	events, err := f.service.AuditTrail(context.Background(), caller, view.ID)
	if err != nil {
		t.Fatalf("AuditTrail returned error: %v", err)
	}
	if len(events) != 2 || events[0].Kind != domain.DeviceAuditRegistered || events[1].Kind != domain.DeviceAuditRevoked {
		t.Fatalf("expected registered then revoked, got %+v", events)
	}

	if _, err := f.service.AuditTrail(context.Background(), domain.Caller{UserID: "user-2"}, view.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for foreign device, got %v", err)
	}
}
