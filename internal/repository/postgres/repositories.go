package postgres

import "github.com/jackc/pgx/v5/pgxpool"

// Repositories groups concrete PostgreSQL repository implementations.
type Repositories struct {
	Devices  *DeviceRepository
	AuthLogs *AuthLogRepository
	Audit    *DeviceAuditRepository
}

// NewRepositories wires all repositories backed by the provided pool.
func NewRepositories(pool *pgxpool.Pool) *Repositories {
	return &Repositories{
		Devices:  NewDeviceRepository(pool),
		AuthLogs: NewAuthLogRepository(pool),
		Audit:    NewDeviceAuditRepository(pool),
	}
}
