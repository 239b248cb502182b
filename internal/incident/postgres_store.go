package incident

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/pam-platform/reliability/internal/event"
	"github.com/pam-platform/reliability/pkg/errors"
)

// PostgresStore persists incidents in a relational table. It satisfies the
// same Store contract as RedisStore for deployments that already run
// Postgres; retention is enforced by a purge on save rather than TTL.
type PostgresStore struct {
	db        *sqlx.DB
	retention time.Duration
}

// NewPostgresStore creates a store on an existing DB handle and ensures the
// schema exists.
func NewPostgresStore(db *sqlx.DB) (*PostgresStore, error) {
	s := &PostgresStore{
		db:        db,
		retention: RetentionDays * 24 * time.Hour,
	}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

const incidentSchema = `
CREATE TABLE IF NOT EXISTS incidents (
	id               TEXT PRIMARY KEY,
	title            TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	category         TEXT NOT NULL,
	severity         TEXT NOT NULL,
	status           TEXT NOT NULL,
	escalation_level INT  NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	resolved_at      TIMESTAMPTZ,
	assigned_to      TEXT NOT NULL DEFAULT '',
	source_events    TEXT[] NOT NULL,
	affected_assets  TEXT[],
	affected_users   TEXT[],
	actions_taken    JSONB NOT NULL DEFAULT '[]',
	version          BIGINT NOT NULL DEFAULT 0
);
ALTER TABLE incidents ADD COLUMN IF NOT EXISTS version BIGINT NOT NULL DEFAULT 0;
CREATE INDEX IF NOT EXISTS idx_incidents_status   ON incidents (status, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_incidents_severity ON incidents (severity, created_at DESC);
`

func (s *PostgresStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, incidentSchema); err != nil {
		return fmt.Errorf("failed to migrate incidents table: %w", err)
	}
	return nil
}

// dbIncident mirrors the incidents table row.
type dbIncident struct {
	ID              string         `db:"id"`
	Title           string         `db:"title"`
	Description     string         `db:"description"`
	Category        string         `db:"category"`
	Severity        string         `db:"severity"`
	Status          string         `db:"status"`
	EscalationLevel int            `db:"escalation_level"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
	ResolvedAt      sql.NullTime   `db:"resolved_at"`
	AssignedTo      string         `db:"assigned_to"`
	SourceEvents    pq.StringArray `db:"source_events"`
	AffectedAssets  pq.StringArray `db:"affected_assets"`
	AffectedUsers   pq.StringArray `db:"affected_users"`
	ActionsTaken    []byte         `db:"actions_taken"`
	Version         int64          `db:"version"`
}

// Save upserts the incident row and opportunistically purges expired rows.
// The update is guarded on the stored version; a stale writer affects zero
// rows and gets a CONFLICT error.
func (s *PostgresStore) Save(ctx context.Context, inc *Incident) error {
	actions, err := json.Marshal(inc.ActionsTaken)
	if err != nil {
		return fmt.Errorf("failed to marshal actions for %s: %w", inc.IncidentID, err)
	}

	row := dbIncident{
		ID:              inc.IncidentID,
		Title:           inc.Title,
		Description:     inc.Description,
		Category:        string(inc.Category),
		Severity:        string(inc.Severity),
		Status:          string(inc.Status),
		EscalationLevel: int(inc.EscalationLevel),
		CreatedAt:       inc.CreatedAt,
		UpdatedAt:       inc.UpdatedAt,
		AssignedTo:      inc.AssignedTo,
		SourceEvents:    pq.StringArray(inc.SourceEvents),
		AffectedAssets:  pq.StringArray(inc.AffectedAssets),
		AffectedUsers:   pq.StringArray(inc.AffectedUsers),
		ActionsTaken:    actions,
		Version:         inc.Version + 1,
	}
	if inc.ResolvedAt != nil {
		row.ResolvedAt = sql.NullTime{Time: *inc.ResolvedAt, Valid: true}
	}

	query := `
		INSERT INTO incidents (
			id, title, description, category, severity, status, escalation_level,
			created_at, updated_at, resolved_at, assigned_to,
			source_events, affected_assets, affected_users, actions_taken, version
		) VALUES (
			:id, :title, :description, :category, :severity, :status, :escalation_level,
			:created_at, :updated_at, :resolved_at, :assigned_to,
			:source_events, :affected_assets, :affected_users, :actions_taken, :version
		)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			severity = EXCLUDED.severity,
			status = EXCLUDED.status,
			escalation_level = EXCLUDED.escalation_level,
			updated_at = EXCLUDED.updated_at,
			resolved_at = EXCLUDED.resolved_at,
			assigned_to = EXCLUDED.assigned_to,
			source_events = EXCLUDED.source_events,
			affected_assets = EXCLUDED.affected_assets,
			affected_users = EXCLUDED.affected_users,
			actions_taken = EXCLUDED.actions_taken,
			version = EXCLUDED.version
		WHERE incidents.version = EXCLUDED.version - 1
	`

	res, err := s.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return fmt.Errorf("failed to save incident %s: %w", inc.IncidentID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Conflict(fmt.Sprintf("incident %s was modified concurrently", inc.IncidentID))
	}
	inc.Version++

	cutoff := time.Now().Add(-s.retention)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM incidents WHERE created_at < $1`, cutoff); err != nil {
		return fmt.Errorf("failed to purge expired incidents: %w", err)
	}
	return nil
}

// Get returns the incident with the given ID.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Incident, error) {
	var row dbIncident
	err := s.db.GetContext(ctx, &row, `SELECT * FROM incidents WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("incident")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get incident %s: %w", id, err)
	}
	return row.toModel()
}

// List returns incidents matching the filter, newest first.
func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*Incident, error) {
	var conds []string
	var args []interface{}

	add := func(column, value string) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if filter.Status != "" {
		add("status", string(filter.Status))
	}
	if filter.Severity != "" {
		add("severity", string(filter.Severity))
	}
	if filter.Category != "" {
		add("category", string(filter.Category))
	}

	query := `SELECT * FROM incidents`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var rows []dbIncident
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}

	out := make([]*Incident, 0, len(rows))
	for _, row := range rows {
		inc, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, nil
}

// Close closes the DB handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (r dbIncident) toModel() (*Incident, error) {
	inc := &Incident{
		IncidentID:      r.ID,
		Title:           r.Title,
		Description:     r.Description,
		Category:        Category(r.Category),
		Severity:        event.Severity(r.Severity),
		Status:          Status(r.Status),
		EscalationLevel: EscalationLevel(r.EscalationLevel),
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		AssignedTo:      r.AssignedTo,
		SourceEvents:    []string(r.SourceEvents),
		AffectedAssets:  []string(r.AffectedAssets),
		AffectedUsers:   []string(r.AffectedUsers),
		Version:         r.Version,
	}
	if r.ResolvedAt.Valid {
		t := r.ResolvedAt.Time
		inc.ResolvedAt = &t
	}
	if len(r.ActionsTaken) > 0 {
		if err := json.Unmarshal(r.ActionsTaken, &inc.ActionsTaken); err != nil {
			return nil, fmt.Errorf("failed to unmarshal actions for %s: %w", r.ID, err)
		}
	}
	return inc, nil
}
