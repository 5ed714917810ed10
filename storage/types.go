package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
)

const (
	// DirectionReceive records bytes that arrived at this host.
	DirectionReceive = "receive"
	// DirectionSend records bytes that left this host.
	DirectionSend = "send"
)

const (
	// StatusComplete marks a transfer that finished with every byte delivered.
	StatusComplete = "complete"
	// StatusRejected marks a transfer refused by policy, such as the size ceiling.
	StatusRejected = "rejected"
	// StatusFailed marks a transfer interrupted by an I/O error.
	StatusFailed = "failed"
)

// Transfer is the SQLite representation of one finished upload or download.
type Transfer struct {
	TransferID string
	Direction  string
	Filename   string
	Size       int64
	Checksum   string
	Status     string
	RemoteAddr *string
	Error      *string
	StartedAt  int64
	FinishedAt int64
}

// TransferFilter narrows a history query.
type TransferFilter struct {
	Direction string
	Status    string
	Filename  string
	Limit     int
	Offset    int
}

type scanner interface {
	Scan(dest ...any) error
}

func validateDirection(direction string) error {
	switch direction {
	case DirectionReceive, DirectionSend:
		return nil
	default:
		return fmt.Errorf("invalid transfer direction %q", direction)
	}
}

func validateStatus(status string) error {
	switch status {
	case StatusComplete, StatusRejected, StatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid transfer status %q", status)
	}
}

func nullString(ptr *string) sql.NullString {
	if ptr == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *ptr, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
