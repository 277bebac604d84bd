package store

import (
	"database/sql"
	"fmt"

	"github.com/BTreeMap/CalendarPipe/internal/models"
)

// collectAccounts scans calendar account rows from either backend.
func collectAccounts(rows *sql.Rows) ([]models.CalendarAccount, error) {
	var accounts []models.CalendarAccount
	for rows.Next() {
		var a models.CalendarAccount
		err := rows.Scan(
			&a.ID, &a.UserID, &a.Email, &a.Timezone,
			&a.DigestEnabled, &a.DigestHour, &a.DigestMinute,
			&a.AlwaysSend, &a.Connected, &a.CreatedAt, &a.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan account row failed: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate account rows failed: %w", err)
	}
	return accounts, nil
}

// collectSnapshots scans event snapshot rows from either backend.
func collectSnapshots(rows *sql.Rows) ([]models.EventSnapshot, error) {
	var snaps []models.EventSnapshot
	for rows.Next() {
		var s models.EventSnapshot
		var status string
		err := rows.Scan(
			&s.AccountID, &s.EventID, &s.Title,
			&s.StartTime, &s.EndTime, &status, &s.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot row failed: %w", err)
		}
		s.Status = models.SnapshotStatus(status)
		snaps = append(snaps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows failed: %w", err)
	}
	return snaps, nil
}
