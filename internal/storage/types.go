package storage

import (
	"context"
	"time"

	"checktime/internal/calendar"
)

// Config selects and configures a backend.
type Config struct {
	Driver      string
	Path        string        // sqlite file
	DSN         string        // postgres
	BusyTimeout time.Duration // sqlite only; 0 keeps the driver default
}

// AuditEntry records one finished remote action.
type AuditEntry struct {
	At         time.Time
	DispatchID string
	UserID     int64
	Action     string
	State      string
	Kind       string
	Detail     string
	TookMS     int64
}

// Store is the persistence API used by the app.
type Store interface {
	calendar.Store
	AppendAudit(ctx context.Context, e AuditEntry) error
	RecentAudit(ctx context.Context, userID int64, limit int) ([]AuditEntry, error)
}
