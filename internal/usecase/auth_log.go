package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/CharbellTrad/biometric-service/internal/core/domain"
	"github.com/CharbellTrad/biometric-service/internal/core/port"
	"github.com/CharbellTrad/biometric-service/internal/repository"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
	lastUsedRetries     = 3
	sessionEndReason    = "session_end"
)

// LastUsedRecorder stamps the device of a successful attempt before it is logged.
type LastUsedRecorder interface {
	UpdateLastUsed(ctx context.Context, deviceID string) error
}

// AuthMetrics records authentication outcomes.
type AuthMetrics interface {
	ObserveAttempt(authType string, success bool)
	ObserveSessionsEnded(count int)
}

type nopAuthMetrics struct{}

func (nopAuthMetrics) ObserveAttempt(string, bool) {}
func (nopAuthMetrics) ObserveSessionsEnded(int)    {}

// LogAuthenticationRequest describes a device-bound authentication attempt.
type LogAuthenticationRequest struct {
	DeviceID   string
	Success    bool
	AuthType   domain.AuthType
	Error      *domain.AuthError
	SessionID  *string
	DurationMS *int
	Attempt    domain.AttemptContext
}

// LogResult is the envelope returned by LogAuthentication. Failures are
// reported here rather than as errors so auditing never blocks the caller.
type LogResult struct {
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Cause   error  `json:"-"`
}

// TraditionalLoginRequest describes a username/password login.
type TraditionalLoginRequest struct {
	SessionID *string
	Device    *domain.DeviceHint
	Attempt   domain.AttemptContext
}

// TraditionalLoginResult is the envelope returned by LogTraditionalLogin.
type TraditionalLoginResult struct {
	Success bool   `json:"success"`
	LogID   string `json:"log_id,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Cause   error  `json:"-"`
}

// EndSessionResult is the envelope returned by EndSession.
type EndSessionResult struct {
	Success       bool   `json:"success"`
	SessionsEnded int    `json:"sessions_ended"`
	Message       string `json:"message,omitempty"`
	Error         string `json:"error,omitempty"`
	Cause         error  `json:"-"`
}

// AuthLogService records authentication attempts and session lifecycle.
type AuthLogService struct {
	logs           port.AuthLogRepository
	devices        port.DeviceRepository
	registry       LastUsedRecorder
	events         port.EventPublisher
	terminations   port.SessionTerminationStore
	terminationTTL time.Duration
	degradation    domain.DegradationPolicy
	metrics        AuthMetrics
	logger         *zap.Logger
	display        *time.Location
	defaultLimit   int
	maxLimit       int
	now            func() time.Time
	newID          func() string
}

// NewAuthLogService constructs an AuthLogService.
func NewAuthLogService(logs port.AuthLogRepository, devices port.DeviceRepository, registry LastUsedRecorder, events port.EventPublisher, logger *zap.Logger) *AuthLogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthLogService{
		logs:         logs,
		devices:      devices,
		registry:     registry,
		events:       events,
		metrics:      nopAuthMetrics{},
		logger:       logger,
		display:      time.UTC,
		defaultLimit: defaultHistoryLimit,
		maxLimit:     maxHistoryLimit,
		now:          func() time.Time { return time.Now().UTC() },
		newID:        uuid.NewString,
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *AuthLogService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// WithDisplayLocation sets the offset history timestamps are rendered in.
func (s *AuthLogService) WithDisplayLocation(loc *time.Location) *AuthLogService {
	if loc != nil {
		s.display = loc
	}
	return s
}

// WithHistoryLimits overrides the default and maximum history page sizes.
func (s *AuthLogService) WithHistoryLimits(defaultLimit, maxLimit int) *AuthLogService {
	if defaultLimit > 0 {
		s.defaultLimit = defaultLimit
	}
	if maxLimit >= s.defaultLimit {
		s.maxLimit = maxLimit
	}
	return s
}

// WithDegradationPolicy sets how session checks behave when the marker cache cannot answer.
func (s *AuthLogService) WithDegradationPolicy(policy domain.DegradationPolicy) *AuthLogService {
	s.degradation = policy
	return s
}

// WithMetrics attaches an outcome recorder.
func (s *AuthLogService) WithMetrics(metrics AuthMetrics) *AuthLogService {
	if metrics != nil {
		s.metrics = metrics
	}
	return s
}

// WithSessionTerminationStore mirrors ended sessions into a fast lookup store.
func (s *AuthLogService) WithSessionTerminationStore(store port.SessionTerminationStore, ttl time.Duration) *AuthLogService {
	if store != nil {
		s.terminations = store
		s.terminationTTL = ttl
		if s.terminationTTL <= 0 {
			s.terminationTTL = 24 * time.Hour
		}
	}
	return s
}

// LogAuthentication records an attempt made with a registered device. On
// success the device's last use is stamped through the registry first.
func (s *AuthLogService) LogAuthentication(ctx context.Context, caller domain.Caller, req LogAuthenticationRequest) LogResult {
	if strings.TrimSpace(caller.UserID) == "" {
		return s.logFailure("log authentication", ErrOwnerRequired)
	}

	device, err := s.devices.GetByID(ctx, req.DeviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return s.logFailure("log authentication", ErrDeviceNotFound)
		}
		return s.logFailure("log authentication", storeError("load device", err))
	}
	if device.OwnerID != caller.UserID {
		return s.logFailure("log authentication", ErrDeviceNotFound)
	}

	authType := req.AuthType
	if authType == "" {
		authType = domain.AuthTypeBiometric
	}
	if !authType.Valid() {
		return s.logFailure("log authentication", fmt.Errorf("%w: unsupported auth type %q", domain.ErrValidation, authType))
	}

	if req.Success && device.IsRevoked() {
		return s.logFailure("log authentication", fmt.Errorf("%w: device %s is revoked", domain.ErrState, device.ID))
	}

	// The conditional last-use stamp runs before the insert so a device revoked
	// after the read above never gains a successful entry.
	var touchErr error
	if req.Success {
		if touchErr = s.touchDevice(ctx, device.ID); touchErr != nil && !errors.Is(touchErr, domain.ErrStorage) {
			return s.logFailure("log authentication", touchErr)
		}
	}

	deviceID := device.ID
	entry := domain.AuthLogEntry{
		ID:             s.newID(),
		UserID:         caller.UserID,
		DeviceID:       &deviceID,
		DeviceName:     device.DeviceName,
		DevicePlatform: string(device.Platform),
		AuthDate:       s.now(),
		Success:        req.Success,
		AuthType:       authType,
		SessionID:      trimmedPtr(req.SessionID),
		SessionActive:  req.Success,
		DurationMS:     req.DurationMS,
		IPAddress:      req.Attempt.IPAddress,
		UserAgent:      req.Attempt.UserAgent,
		Notes:          req.Attempt.Notes,
	}
	if !req.Success && req.Error != nil {
		entry.ErrorCode = optionalString(req.Error.Code)
		entry.ErrorMessage = optionalString(req.Error.Message)
	}

	if err := s.logs.Create(ctx, entry); err != nil {
		return s.logFailure("log authentication", storeError("insert auth log", err))
	}
	s.metrics.ObserveAttempt(string(authType), req.Success)

	message := "authentication logged"
	if touchErr != nil {
		s.logger.Error("auth logged but device last use not updated",
			zap.String("log_id", entry.ID),
			zap.String("device_id", device.ID),
			zap.Error(touchErr),
		)
		message = "authentication logged; device last use not updated"
	}

	s.publishAuthLogged(ctx, entry)
	s.logger.Info("authentication logged",
		zap.String("log_id", entry.ID),
		zap.String("user_id", caller.UserID),
		zap.String("device_id", device.ID),
		zap.String("auth_type", string(authType)),
		zap.Bool("success", req.Success),
	)

	return LogResult{ID: entry.ID, Success: true, Message: message}
}

// LogTraditionalLogin records a username/password login, attaching the best
// matching active device of the caller.
func (s *AuthLogService) LogTraditionalLogin(ctx context.Context, caller domain.Caller, req TraditionalLoginRequest) TraditionalLoginResult {
	if strings.TrimSpace(caller.UserID) == "" {
		err := ErrOwnerRequired
		return TraditionalLoginResult{Success: false, Error: err.Error(), Cause: err}
	}

	device, err := s.resolveLoginDevice(ctx, caller.UserID, req.Device)
	if err != nil {
		s.logger.Error("traditional login device lookup failed", zap.String("user_id", caller.UserID), zap.Error(err))
		return TraditionalLoginResult{Success: false, Error: err.Error(), Cause: err}
	}

	entry := domain.AuthLogEntry{
		ID:            s.newID(),
		UserID:        caller.UserID,
		AuthDate:      s.now(),
		Success:       true,
		AuthType:      domain.AuthTypeTraditional,
		SessionID:     trimmedPtr(req.SessionID),
		SessionActive: true,
		IPAddress:     req.Attempt.IPAddress,
		UserAgent:     req.Attempt.UserAgent,
		Notes:         req.Attempt.Notes,
	}

	if device != nil {
		deviceID := device.ID
		entry.DeviceID = &deviceID
		entry.DeviceName = device.DeviceName
		entry.DevicePlatform = string(device.Platform)
	} else {
		entry.DeviceName = domain.DefaultDeviceName
		entry.DevicePlatform = domain.UnknownPlatform
		if req.Device != nil {
			if name := strings.TrimSpace(req.Device.DeviceName); name != "" {
				entry.DeviceName = name
			}
			if platform := strings.TrimSpace(req.Device.Platform); platform != "" {
				entry.DevicePlatform = platform
			}
		}
	}

	if err := s.logs.Create(ctx, entry); err != nil {
		err = storeError("insert auth log", err)
		s.logger.Error("log traditional login failed", zap.String("user_id", caller.UserID), zap.Error(err))
		return TraditionalLoginResult{Success: false, Error: err.Error(), Cause: err}
	}
	s.metrics.ObserveAttempt(string(domain.AuthTypeTraditional), true)

	s.publishAuthLogged(ctx, entry)
	s.logger.Info("traditional login logged",
		zap.String("log_id", entry.ID),
		zap.String("user_id", caller.UserID),
		zap.Bool("device_matched", device != nil),
	)

	return TraditionalLoginResult{Success: true, LogID: entry.ID, Message: "login logged"}
}

// EndSession closes every active session of the caller, optionally narrowed
// by session id and device. It runs in system scope limited to the caller's
// own entries. Ending nothing is a success.
func (s *AuthLogService) EndSession(ctx context.Context, caller domain.Caller, sessionID, deviceUUID *string) EndSessionResult {
	if strings.TrimSpace(caller.UserID) == "" {
		err := ErrOwnerRequired
		return EndSessionResult{Success: false, Error: err.Error(), Cause: err}
	}

	active := true
	filter := domain.AuthLogFilter{
		UserID:        caller.UserID,
		SessionActive: &active,
		SessionID:     trimmedPtr(sessionID),
	}

	if uuidValue := trimmedPtr(deviceUUID); uuidValue != nil {
		device, err := s.devices.GetByUUID(ctx, caller.UserID, *uuidValue)
		switch {
		case err == nil:
			deviceID := device.ID
			filter.DeviceID = &deviceID
		case errors.Is(err, repository.ErrNotFound):
			s.logger.Info("end session device not registered, not narrowing by device",
				zap.String("user_id", caller.UserID),
				zap.String("device_uuid", *uuidValue),
			)
		default:
			err = storeError("load device", err)
			s.logger.Error("end session failed", zap.String("user_id", caller.UserID), zap.Error(err))
			return EndSessionResult{Success: false, Error: err.Error(), Cause: err}
		}
	}

	endedAt := s.now()
	count, sessionIDs, err := s.logs.EndSessions(ctx, filter, endedAt)
	if err != nil {
		err = storeError("end sessions", err)
		s.logger.Error("end session failed", zap.String("user_id", caller.UserID), zap.Error(err))
		return EndSessionResult{Success: false, Error: err.Error(), Cause: err}
	}

	if count == 0 {
		return EndSessionResult{Success: true, SessionsEnded: 0, Message: "no active sessions"}
	}

	s.metrics.ObserveSessionsEnded(count)
	s.markTerminated(ctx, sessionIDs)

	if s.events != nil {
		event := domain.SessionEndedEvent{
			EventID:       s.newID(),
			UserID:        caller.UserID,
			SessionID:     filter.SessionID,
			DeviceID:      filter.DeviceID,
			SessionsEnded: count,
			EndedAt:       endedAt,
		}
		if err := s.events.PublishSessionEnded(ctx, event); err != nil {
			s.logger.Warn("publish session ended event failed", zap.String("user_id", caller.UserID), zap.Error(err))
		}
	}

	s.logger.Info("sessions ended",
		zap.String("user_id", caller.UserID),
		zap.Int("sessions_ended", count),
	)

	return EndSessionResult{Success: true, SessionsEnded: count, Message: "sessions ended"}
}

// SessionEnded reports whether one of the caller's sessions has been ended.
// The marker cache answers first; under a lenient degradation policy a miss or
// a cache failure is confirmed against the authentication log.
func (s *AuthLogService) SessionEnded(ctx context.Context, caller domain.Caller, sessionID string) (bool, string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return false, "", fmt.Errorf("%w: session id is required", domain.ErrValidation)
	}

	reason := domain.DegradationReasonCacheMiss
	if s.terminations != nil {
		ended, marker, err := s.terminations.IsSessionEnded(ctx, sessionID)
		switch {
		case err != nil:
			reason = domain.DegradationReasonCacheUnavailable
			if !s.degradation.AllowsFallback(reason) {
				return false, "", fmt.Errorf("%w: session termination lookup: %w", domain.ErrStorage, err)
			}
			s.logger.Warn("session termination lookup failed, using authentication log",
				zap.String("session_id", sessionID), zap.Error(err))
		case ended:
			return true, marker, nil
		}
	}

	if !s.degradation.AllowsFallback(reason) {
		return false, "", nil
	}

	active, success := false, true
	count, err := s.logs.Count(ctx, domain.AuthLogFilter{
		UserID:        caller.UserID,
		SessionID:     &sessionID,
		SessionActive: &active,
		Success:       &success,
	})
	if err != nil {
		return false, "", storeError("count ended sessions", err)
	}
	if count == 0 {
		return false, "", nil
	}
	return true, sessionEndReason, nil
}

// ActiveSessions lists the owner's successful, still-active sessions, newest first.
func (s *AuthLogService) ActiveSessions(ctx context.Context, ownerID string) ([]SessionView, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, ErrOwnerRequired
	}

	active, success := true, true
	entries, err := s.logs.List(ctx, domain.AuthLogFilter{
		UserID:        ownerID,
		SessionActive: &active,
		Success:       &success,
	}, 0, 0)
	if err != nil {
		return nil, storeError("list active sessions", err)
	}

	views := make([]SessionView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, newSessionView(entry))
	}
	return views, nil
}

// AuthHistory returns one page of the owner's history, newest first, with
// timestamps rendered in the configured display offset.
func (s *AuthLogService) AuthHistory(ctx context.Context, owner domain.Caller, limit, offset int) (*HistoryPage, error) {
	if strings.TrimSpace(owner.UserID) == "" {
		return nil, ErrOwnerRequired
	}
	if limit < 0 || offset < 0 {
		return nil, fmt.Errorf("%w: limit and offset must not be negative", domain.ErrValidation)
	}
	if limit == 0 {
		limit = s.defaultLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}

	filter := domain.AuthLogFilter{UserID: owner.UserID}
	total, err := s.logs.Count(ctx, filter)
	if err != nil {
		return nil, storeError("count auth history", err)
	}

	entries, err := s.logs.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, storeError("list auth history", err)
	}

	userName := owner.DisplayName
	if strings.TrimSpace(userName) == "" {
		userName = owner.UserID
	}

	records := make([]HistoryRecord, 0, len(entries))
	for _, entry := range entries {
		records = append(records, newHistoryRecord(entry, userName, s.display))
	}

	return &HistoryPage{
		Records: records,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	}, nil
}

// DeviceAuthStats summarises every attempt recorded for a device of the caller.
func (s *AuthLogService) DeviceAuthStats(ctx context.Context, caller domain.Caller, deviceID string) (*DeviceAuthStatsView, error) {
	if strings.TrimSpace(deviceID) == "" {
		return nil, fmt.Errorf("%w: device id is required", domain.ErrValidation)
	}

	device, err := s.devices.GetByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, storeError("load device", err)
	}
	if device.OwnerID != caller.UserID {
		return nil, ErrDeviceNotFound
	}

	stats, err := s.logs.StatsForDevice(ctx, device.ID)
	if err != nil {
		return nil, storeError("device auth stats", err)
	}

	view := newDeviceAuthStatsView(stats)
	return &view, nil
}

// resolveLoginDevice picks the device for a traditional login: exact uuid,
// then same platform, then (only without any hint) any active device.
func (s *AuthLogService) resolveLoginDevice(ctx context.Context, ownerID string, hint *domain.DeviceHint) (*domain.Device, error) {
	var lookups []port.DeviceLookup
	switch {
	case hint.Empty():
		lookups = append(lookups, port.DeviceLookup{})
	default:
		if uuidValue := strings.TrimSpace(hint.DeviceUUID); uuidValue != "" {
			lookups = append(lookups, port.DeviceLookup{DeviceUUID: uuidValue})
		}
		if platform := strings.TrimSpace(hint.Platform); platform != "" {
			lookups = append(lookups, port.DeviceLookup{Platform: platform})
		}
	}

	for _, lookup := range lookups {
		device, err := s.devices.FindActive(ctx, ownerID, lookup)
		if err == nil {
			return device, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, storeError("find active device", err)
		}
	}
	return nil, nil
}

func (s *AuthLogService) touchDevice(ctx context.Context, deviceID string) error {
	if s.registry == nil {
		return nil
	}
	var err error
	for attempt := 0; attempt < lastUsedRetries; attempt++ {
		if err = s.registry.UpdateLastUsed(ctx, deviceID); err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrStorage) {
			return err
		}
	}
	return err
}

func (s *AuthLogService) markTerminated(ctx context.Context, sessionIDs []string) {
	if s.terminations == nil {
		return
	}
	for _, id := range sessionIDs {
		if strings.TrimSpace(id) == "" {
			continue
		}
		if err := s.terminations.MarkSessionEnded(ctx, id, sessionEndReason, s.terminationTTL); err != nil {
			s.logger.Warn("mark session ended failed", zap.String("session_id", id), zap.Error(err))
		}
	}
}

func (s *AuthLogService) publishAuthLogged(ctx context.Context, entry domain.AuthLogEntry) {
	if s.events == nil {
		return
	}
	event := domain.AuthLoggedEvent{
		EventID:   s.newID(),
		EntryID:   entry.ID,
		UserID:    entry.UserID,
		DeviceID:  entry.DeviceID,
		AuthType:  entry.AuthType,
		Success:   entry.Success,
		ErrorCode: entry.ErrorCode,
		SessionID: entry.SessionID,
		LoggedAt:  entry.AuthDate,
	}
	if err := s.events.PublishAuthLogged(ctx, event); err != nil {
		s.logger.Warn("publish auth logged event failed", zap.String("log_id", entry.ID), zap.Error(err))
	}
}

func (s *AuthLogService) logFailure(op string, err error) LogResult {
	if errors.Is(err, domain.ErrStorage) {
		s.logger.Error(op+" failed", zap.Error(err))
	} else {
		s.logger.Warn(op+" rejected", zap.Error(err))
	}
	return LogResult{Success: false, Error: err.Error(), Cause: err}
}

func trimmedPtr(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
