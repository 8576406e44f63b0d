package mac

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kdt-dev/kdt/pkg/kdterr"
	"github.com/kdt-dev/kdt/pkg/layout"
)

// Sighting is a host seen on the network by a scan
type Sighting struct {
	ID         int
	Hostname   string
	MACAddress string
	IPAddress  string
	SeenAt     time.Time
}

// HostSummary is the latest sighting of a host
type HostSummary struct {
	Hostname   string
	MACAddress string
	IPAddress  string
	LastSeen   time.Time
	Count      int
}

const schema = `
CREATE TABLE IF NOT EXISTS sightings (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	hostname    TEXT NOT NULL,
	mac_address TEXT NOT NULL,
	ip_address  TEXT NOT NULL,
	seen_at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sightings_host ON sightings (hostname);
CREATE TABLE IF NOT EXISTS audit_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	action      TEXT NOT NULL,
	hostname    TEXT,
	mac_address TEXT,
	user        TEXT,
	details     TEXT,
	created_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

// DatabasePath returns $KDT_DB or ~/.kdt.db
func DatabasePath() (string, error) {
	if p := os.Getenv(layout.EnvDatabase); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to find home directory: %w", err)
	}
	return filepath.Join(home, layout.DatabaseName), nil
}

// OpenDatabase opens the SQLite database, creating the tables on first use
func OpenDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open %s: %w", dbPath, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables in %s: %w", dbPath, err)
	}
	return db, nil
}

// NormalizeMAC validates an Ethernet MAC address and returns it in lower
// case colon form
func NormalizeMAC(mac string) (string, error) {
	hw, err := net.ParseMAC(strings.TrimSpace(mac))
	if err != nil || len(hw) != 6 {
		return "", kdterr.Errorf(kdterr.KindUsage, "invalid MAC address %q", mac)
	}
	return hw.String(), nil
}

func audit(tx *sql.Tx, action, hostname, mac string, details map[string]string) error {
	detailsJSON, _ := json.Marshal(details)
	_, err := tx.Exec(`
		INSERT INTO audit_log (action, hostname, mac_address, user, details)
		VALUES (?, ?, ?, ?, ?)
	`, action, hostname, mac, os.Getenv("USER"), string(detailsJSON))
	return err
}

// RecordSighting stores a host found by a scan
func RecordSighting(db *sql.DB, hostname, mac, ip string, seenAt time.Time) error {
	mac, err := NormalizeMAC(mac)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		INSERT INTO sightings (hostname, mac_address, ip_address, seen_at)
		VALUES (?, ?, ?, ?)
	`, hostname, mac, ip, seenAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record sighting of %s: %w", hostname, err)
	}
	return nil
}

// RecordMapping adds an audit entry for a host / MAC pair added to the
// configuration
func RecordMapping(db *sql.DB, hostname, mac string) error {
	mac, err := NormalizeMAC(mac)
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Note the previous MAC when the host is remapped
	details := map[string]string{}
	var previous string
	err = tx.QueryRow(`
		SELECT mac_address FROM audit_log
		WHERE action = 'add' AND hostname = ?
		ORDER BY id DESC LIMIT 1
	`, hostname).Scan(&previous)
	if err == nil && previous != mac {
		details["previous"] = previous
	} else if err != nil && err != sql.ErrNoRows {
		return err
	}

	if err := audit(tx, "add", hostname, mac, details); err != nil {
		return err
	}
	return tx.Commit()
}

// ListSightings lists sightings, newest first, optionally for one host
func ListSightings(db *sql.DB, hostname string, limit int) ([]*Sighting, error) {
	query := `
		SELECT id, hostname, mac_address, ip_address, seen_at
		FROM sightings
		WHERE 1=1
	`
	args := []interface{}{}

	if hostname != "" {
		query += " AND hostname = ?"
		args = append(args, hostname)
	}

	query += " ORDER BY seen_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sightings []*Sighting
	for rows.Next() {
		s := &Sighting{}
		if err := rows.Scan(&s.ID, &s.Hostname, &s.MACAddress, &s.IPAddress, &s.SeenAt); err != nil {
			return nil, err
		}
		sightings = append(sightings, s)
	}
	return sightings, rows.Err()
}

// Hosts summarizes the sightings per host, most recently seen first
func Hosts(db *sql.DB) ([]*HostSummary, error) {
	rows, err := db.Query(`
		SELECT s.hostname, s.mac_address, s.ip_address, s.seen_at, c.total
		FROM sightings s
		JOIN (
			SELECT hostname, MAX(id) AS last_id, COUNT(*) AS total
			FROM sightings GROUP BY hostname
		) c ON s.id = c.last_id
		ORDER BY s.seen_at DESC, s.hostname
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hosts []*HostSummary
	for rows.Next() {
		h := &HostSummary{}
		if err := rows.Scan(&h.Hostname, &h.MACAddress, &h.IPAddress, &h.LastSeen, &h.Count); err != nil {
			return nil, err
		}
		hosts = append(hosts, h)
	}
	return hosts, rows.Err()
}

// Prune deletes sightings older than the given age and returns how many
// were removed
func Prune(db *sql.DB, olderThan time.Duration) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	result, err := tx.Exec(`DELETE FROM sightings WHERE seen_at < ?`, time.Now().Add(-olderThan).UTC())
	if err != nil {
		return 0, err
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	if count > 0 {
		details := map[string]string{
			"older_than": olderThan.String(),
			"count":      fmt.Sprint(count),
		}
		if err := audit(tx, "prune", "", "", details); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}
