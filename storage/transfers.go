package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	defaultTransferLimit = 100
	maxTransferLimit     = 1000
)

// RecordTransfer appends one transfer outcome and returns its id.
func (s *Store) RecordTransfer(transfer Transfer) (string, error) {
	if strings.TrimSpace(transfer.Filename) == "" {
		return "", errors.New("filename is required")
	}
	if err := validateDirection(transfer.Direction); err != nil {
		return "", err
	}
	if transfer.Status == "" {
		transfer.Status = StatusComplete
	}
	if err := validateStatus(transfer.Status); err != nil {
		return "", err
	}
	if transfer.TransferID == "" {
		transfer.TransferID = uuid.NewString()
	}
	if transfer.FinishedAt == 0 {
		transfer.FinishedAt = nowUnixMilli()
	}
	if transfer.StartedAt == 0 {
		transfer.StartedAt = transfer.FinishedAt
	}

	_, err := s.db.Exec(
		`INSERT INTO transfers (
			transfer_id,
			direction,
			filename,
			size,
			checksum,
			status,
			remote_addr,
			error,
			started_at,
			finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		transfer.TransferID,
		transfer.Direction,
		transfer.Filename,
		transfer.Size,
		transfer.Checksum,
		transfer.Status,
		nullString(transfer.RemoteAddr),
		nullString(transfer.Error),
		transfer.StartedAt,
		transfer.FinishedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert transfer %q: %w", transfer.TransferID, err)
	}

	return transfer.TransferID, nil
}

// GetTransfer returns one transfer by id.
func (s *Store) GetTransfer(transferID string) (*Transfer, error) {
	row := s.db.QueryRow(
		`SELECT
			transfer_id,
			direction,
			filename,
			size,
			checksum,
			status,
			remote_addr,
			error,
			started_at,
			finished_at
		FROM transfers
		WHERE transfer_id = ?`,
		transferID,
	)

	transfer, err := scanTransfer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transfer %q: %w", transferID, err)
	}
	return transfer, nil
}

// ListTransfers returns the most recent transfers first.
func (s *Store) ListTransfers(filter TransferFilter) ([]Transfer, error) {
	if filter.Direction != "" {
		if err := validateDirection(filter.Direction); err != nil {
			return nil, err
		}
	}
	if filter.Status != "" {
		if err := validateStatus(filter.Status); err != nil {
			return nil, err
		}
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultTransferLimit
	}
	if limit > maxTransferLimit {
		limit = maxTransferLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := strings.Builder{}
	query.WriteString(`SELECT
		transfer_id,
		direction,
		filename,
		size,
		checksum,
		status,
		remote_addr,
		error,
		started_at,
		finished_at
	FROM transfers`)

	where := make([]string, 0, 3)
	args := make([]any, 0, 5)

	if filter.Direction != "" {
		where = append(where, "direction = ?")
		args = append(args, filter.Direction)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Filename != "" {
		where = append(where, "filename = ?")
		args = append(args, filter.Filename)
	}

	if len(where) > 0 {
		query.WriteString(" WHERE ")
		query.WriteString(strings.Join(where, " AND "))
	}
	query.WriteString(" ORDER BY finished_at DESC, rowid DESC LIMIT ? OFFSET ?")
	args = append(args, limit, offset)

	rows, err := s.db.Query(query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	transfers := make([]Transfer, 0)
	for rows.Next() {
		transfer, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transfer row: %w", err)
		}
		transfers = append(transfers, *transfer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfer rows: %w", err)
	}

	return transfers, nil
}

// PruneTransfers removes transfers that finished before cutoffTimestamp.
func (s *Store) PruneTransfers(cutoffTimestamp int64) (int64, error) {
	if cutoffTimestamp <= 0 {
		return 0, errors.New("cutoff timestamp must be > 0")
	}

	res, err := s.db.Exec(`DELETE FROM transfers WHERE finished_at < ?`, cutoffTimestamp)
	if err != nil {
		return 0, fmt.Errorf("prune transfers: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for transfer prune: %w", err)
	}

	return rowsAffected, nil
}

func scanTransfer(row scanner) (*Transfer, error) {
	var (
		transfer   Transfer
		remoteAddr sql.NullString
		errText    sql.NullString
	)
	if err := row.Scan(
		&transfer.TransferID,
		&transfer.Direction,
		&transfer.Filename,
		&transfer.Size,
		&transfer.Checksum,
		&transfer.Status,
		&remoteAddr,
		&errText,
		&transfer.StartedAt,
		&transfer.FinishedAt,
	); err != nil {
		return nil, err
	}

	transfer.RemoteAddr = stringPtr(remoteAddr)
	transfer.Error = stringPtr(errText)
	return &transfer, nil
}
