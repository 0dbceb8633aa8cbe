package usecase

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/CharbellTrad/biometric-service/internal/core/domain"
)

const isoLayout = "2006-01-02T15:04:05Z07:00"

// DeviceDetails couples a device with its derived statistics.
type DeviceDetails struct {
	Device    domain.Device
	Usage     domain.DeviceUsage
	IsCurrent bool
}

// DeviceView is the stable public representation of a device.
type DeviceView struct {
	ID               string  `json:"id"`
	DeviceID         string  `json:"deviceId"`
	DeviceName       string  `json:"deviceName"`
	Platform         string  `json:"platform"`
	OSVersion        *string `json:"osVersion"`
	ModelName        *string `json:"modelName"`
	Brand            *string `json:"brand"`
	IsPhysicalDevice bool    `json:"isPhysicalDevice"`
	BiometricType    string  `json:"biometricType"`
	State            string  `json:"state"`
	IsEnabled        bool    `json:"isEnabled"`
	IsCurrentDevice  bool    `json:"isCurrentDevice"`
	EnrolledAt       *string `json:"enrolledAt"`
	LastUsedAt       *string `json:"lastUsedAt"`
	AuthCount        int     `json:"authCount"`
	IsRecentlyUsed   bool    `json:"isRecentlyUsed"`
	IsStale          bool    `json:"isStale"`
	DaysSinceLastUse int     `json:"daysSinceLastUse"`
}

// NewDeviceView renders device details into the public view.
func NewDeviceView(details DeviceDetails) DeviceView {
	d := details.Device
	return DeviceView{
		ID:               d.ID,
		DeviceID:         d.DeviceUUID,
		DeviceName:       d.DeviceName,
		Platform:         string(d.Platform),
		OSVersion:        d.OSVersion,
		ModelName:        d.ModelName,
		Brand:            d.Brand,
		IsPhysicalDevice: d.IsPhysical,
		BiometricType:    d.DisplayBiometric(),
		State:            string(d.State),
		IsEnabled:        d.IsEnabled,
		IsCurrentDevice:  details.IsCurrent,
		EnrolledAt:       formatUTC(&d.EnrolledAt),
		LastUsedAt:       formatUTC(d.LastUsedAt),
		AuthCount:        details.Usage.AuthCount,
		IsRecentlyUsed:   details.Usage.IsRecentlyUsed,
		IsStale:          details.Usage.IsStale,
		DaysSinceLastUse: details.Usage.DaysSinceLastUse,
	}
}

// SessionView describes a still-active successful authentication.
type SessionView struct {
	ID         string  `json:"id"`
	DeviceName string  `json:"device_name"`
	AuthDate   *string `json:"auth_date"`
	AuthType   string  `json:"auth_type"`
	SessionID  *string `json:"session_id,omitempty"`
}

func newSessionView(entry domain.AuthLogEntry) SessionView {
	return SessionView{
		ID:         entry.ID,
		DeviceName: entry.DeviceNameOrDefault(),
		AuthDate:   formatUTC(&entry.AuthDate),
		AuthType:   string(entry.AuthType),
		SessionID:  entry.SessionID,
	}
}

// HistoryRecord is one authentication log entry rendered for the caller.
type HistoryRecord struct {
	ID                   string  `json:"id"`
	DisplayName          string  `json:"display_name"`
	DeviceName           string  `json:"device_name"`
	DevicePlatform       string  `json:"device_platform"`
	DeviceNameDirect     *string `json:"device_name_direct"`
	DevicePlatformDirect *string `json:"device_platform_direct"`
	AuthDate             *string `json:"auth_date"`
	Success              bool    `json:"success"`
	AuthType             string  `json:"auth_type"`
	SessionActive        bool    `json:"session_active"`
	SessionEndedAt       *string `json:"session_ended_at"`
	ErrorCode            *string `json:"error_code"`
	ErrorMessage         *string `json:"error_message"`
	IPAddress            *string `json:"ip_address"`
	UserAgent            *string `json:"user_agent"`
	DurationMS           *int    `json:"duration_ms"`
	Notes                *string `json:"notes"`
	SessionID            *string `json:"session_id"`
}

// HistoryPage is a paginated slice of the caller's authentication history.
type HistoryPage struct {
	Records []HistoryRecord `json:"records"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
	HasMore bool            `json:"has_more"`
}

func newHistoryRecord(entry domain.AuthLogEntry, userName string, loc *time.Location) HistoryRecord {
	return HistoryRecord{
		ID:                   entry.ID,
		DisplayName:          entry.DisplayName(userName),
		DeviceName:           entry.DeviceNameOrDefault(),
		DevicePlatform:       entry.DevicePlatformOrDefault(),
		DeviceNameDirect:     optionalString(entry.DeviceName),
		DevicePlatformDirect: optionalString(entry.DevicePlatform),
		AuthDate:             formatIn(&entry.AuthDate, loc),
		Success:              entry.Success,
		AuthType:             string(entry.AuthType),
		SessionActive:        entry.SessionActive,
		SessionEndedAt:       formatIn(entry.SessionEndedAt, loc),
		ErrorCode:            entry.ErrorCode,
		ErrorMessage:         entry.ErrorMessage,
		IPAddress:            entry.IPAddress,
		UserAgent:            entry.UserAgent,
		DurationMS:           entry.DurationMS,
		Notes:                entry.Notes,
		SessionID:            entry.SessionID,
	}
}

// DeviceAuthStatsView summarises the attempts recorded for a device.
type DeviceAuthStatsView struct {
	TotalAttempts int     `json:"total_attempts"`
	Successful    int     `json:"successful"`
	Failed        int     `json:"failed"`
	SuccessRate   float64 `json:"success_rate"`
	LastAuth      *string `json:"last_auth"`
}

func newDeviceAuthStatsView(stats domain.AuthStats) DeviceAuthStatsView {
	return DeviceAuthStatsView{
		TotalAttempts: stats.Total,
		Successful:    stats.Successful,
		Failed:        stats.Failed(),
		SuccessRate:   stats.SuccessRate(),
		LastAuth:      formatUTC(stats.LastAuth),
	}
}

// ParseDisplayOffset parses a fixed UTC offset such as "-04:00" or "+0530"
// into a location used when rendering history timestamps.
func ParseDisplayOffset(raw string) (*time.Location, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "Z" || strings.EqualFold(raw, "utc") {
		return time.UTC, nil
	}

	sign := 1
	switch raw[0] {
	case '+':
	case '-':
		sign = -1
	default:
		return nil, fmt.Errorf("display offset %q must start with + or -", raw)
	}

	body := strings.ReplaceAll(raw[1:], ":", "")
	if len(body) != 2 && len(body) != 4 {
		return nil, fmt.Errorf("display offset %q must be ±HH or ±HH:MM", raw)
	}

	hours, err := strconv.Atoi(body[:2])
	if err != nil {
		return nil, fmt.Errorf("display offset %q: %w", raw, err)
	}
	minutes := 0
	if len(body) == 4 {
		if minutes, err = strconv.Atoi(body[2:]); err != nil {
			return nil, fmt.Errorf("display offset %q: %w", raw, err)
		}
	}
	if hours > 14 || minutes > 59 {
		return nil, fmt.Errorf("display offset %q out of range", raw)
	}

	seconds := sign * (hours*3600 + minutes*60)
	return time.FixedZone(raw, seconds), nil
}

func formatUTC(t *time.Time) *string {
	return formatIn(t, time.UTC)
}

func formatIn(t *time.Time, loc *time.Location) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}
	formatted := t.In(loc).Format(isoLayout)
	return &formatted
}

func optionalString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}
