package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/beaconsec/identra/internal/config"
	"github.com/beaconsec/identra/internal/core"
	"github.com/beaconsec/identra/internal/logger"
	"github.com/beaconsec/identra/pkg/types"
)

type sqlStore struct {
	db     *sqlx.DB
	cfg    config.DatabaseConfig
	logger *logger.Logger
}

// getPlaceholder returns the appropriate placeholder for the database driver
func (s *sqlStore) getPlaceholder(n int) string {
	if s.cfg.Driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func NewStore(cfg config.DatabaseConfig) (core.IdentityStore, error) {
	log, err := logger.New(config.LoggerConfig{Level: "debug", Format: "json"})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database logger: %w", err)
	}
	log = log.WithComponent("database")

	ctx := context.Background()
	ctx, span := log.StartOperation(ctx, "database.NewStore",
		"driver", cfg.Driver,
		"dsn_masked", maskDSN(cfg.DSN),
		"max_connections", cfg.MaxConnections,
	)
	defer func() {
		log.FinishOperation(ctx, span, "database.NewStore", time.Now(), err)
	}()

	start := time.Now()
	db, err := sqlx.Connect(cfg.Driver, cfg.DSN)
	if err != nil {
		log.LogError(ctx, err, "database.Connect",
			"driver", cfg.Driver,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.LogDuration(ctx, "database.Connect", start,
		"driver", cfg.Driver,
		"success", true,
	)

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	store := &sqlStore{
		db:     db,
		cfg:    cfg,
		logger: log,
	}

	migrateStart := time.Now()
	if err := store.migrate(); err != nil {
		log.LogError(ctx, err, "database.Migrate",
			"duration_ms", time.Since(migrateStart).Milliseconds(),
		)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.WithContext(ctx).Infow("Database store initialized successfully",
		"driver", cfg.Driver,
		"total_init_duration_ms", time.Since(start).Milliseconds(),
	)

	return store, nil
}

// maskDSN masks sensitive information in DSN for logging
func maskDSN(dsn string) string {
	if len(dsn) > 10 {
		return dsn[:5] + "***" + dsn[len(dsn)-5:]
	}
	return "***"
}

func (s *sqlStore) migrate() error {
	ctx := context.Background()

	// Enable foreign keys for SQLite
	if s.cfg.Driver == "sqlite3" {
		if _, err := s.db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
			return fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS identities (
		id TEXT NOT NULL,
		email TEXT NOT NULL,
		source TEXT NOT NULL,
		provider TEXT NOT NULL DEFAULT '',
		roles TEXT,
		mfa_enabled BOOLEAN NOT NULL,
		last_login TIMESTAMP,
		is_active BOOLEAN NOT NULL,
		risk_score FLOAT NOT NULL DEFAULT 0,
		linked_accounts TEXT,
		group_membership TEXT,
		privilege_tier TEXT,
		exposure_level FLOAT NOT NULL DEFAULT 0,
		attack_path_count INTEGER NOT NULL DEFAULT 0,
		blast_radius INTEGER NOT NULL DEFAULT 0,
		cloud_accounts TEXT,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (id, source, provider)
	);

	CREATE INDEX IF NOT EXISTS idx_identities_email ON identities(email);
	CREATE INDEX IF NOT EXISTS idx_identities_source ON identities(source);
	CREATE INDEX IF NOT EXISTS idx_identities_risk_score ON identities(risk_score);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	runner := NewMigrationRunner(s.db, s.logger)
	return runner.RunMigrations(ctx)
}

func (s *sqlStore) UpsertIdentities(ctx context.Context, identities []*types.UnifiedIdentity) error {
	start := time.Now()
	ctx, span := s.logger.StartOperation(ctx, "database.UpsertIdentities",
		"identity_count", len(identities),
	)
	var err error
	defer func() {
		s.logger.FinishOperation(ctx, span, "database.UpsertIdentities", start, err)
	}()

	if len(identities) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO identities (
			id, email, source, provider, roles, mfa_enabled, last_login,
			is_active, risk_score, linked_accounts, group_membership,
			privilege_tier, exposure_level, attack_path_count, blast_radius,
			cloud_accounts, updated_at
		) VALUES (
			:id, :email, :source, :provider, :roles, :mfa_enabled, :last_login,
			:is_active, :risk_score, :linked_accounts, :group_membership,
			:privilege_tier, :exposure_level, :attack_path_count, :blast_radius,
			:cloud_accounts, :updated_at
		)
		ON CONFLICT (id, source, provider) DO UPDATE SET
			email = excluded.email,
			roles = excluded.roles,
			mfa_enabled = excluded.mfa_enabled,
			last_login = excluded.last_login,
			is_active = excluded.is_active,
			risk_score = excluded.risk_score,
			linked_accounts = excluded.linked_accounts,
			group_membership = excluded.group_membership,
			privilege_tier = excluded.privilege_tier,
			exposure_level = excluded.exposure_level,
			attack_path_count = excluded.attack_path_count,
			blast_radius = excluded.blast_radius,
			cloud_accounts = excluded.cloud_accounts,
			updated_at = excluded.updated_at
	`

	totalRowsAffected := int64(0)
	for _, identity := range identities {
		args, marshalErr := identityArgs(identity)
		if marshalErr != nil {
			err = marshalErr
			s.logger.LogError(ctx, err, "database.UpsertIdentities.marshal",
				"identity_id", identity.ID,
			)
			return err
		}

		queryStart := time.Now()
		result, execErr := tx.NamedExecContext(ctx, query, args)
		if execErr != nil {
			err = execErr
			s.logger.LogError(ctx, err, "database.UpsertIdentities.upsert",
				"identity_id", identity.ID,
				"source", string(identity.Source),
				"query_duration_ms", time.Since(queryStart).Milliseconds(),
			)
			return fmt.Errorf("failed to upsert identity %s: %w", identity.ID, err)
		}

		rowsAffected, _ := result.RowsAffected()
		totalRowsAffected += rowsAffected
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.LogDatabaseOperation(ctx, "UPSERT", "identities", totalRowsAffected, time.Since(start),
		"identity_count", len(identities),
	)

	return nil
}

func identityArgs(identity *types.UnifiedIdentity) (map[string]interface{}, error) {
	rolesJSON, err := json.Marshal(identity.Roles)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal roles: %w", err)
	}
	linkedJSON, err := json.Marshal(identity.LinkedAccounts)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal linked accounts: %w", err)
	}
	groupsJSON, err := json.Marshal(identity.GroupMembership)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal group membership: %w", err)
	}
	cloudJSON, err := json.Marshal(identity.CloudAccounts)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cloud accounts: %w", err)
	}

	return map[string]interface{}{
		"id":                identity.ID,
		"email":             identity.Email,
		"source":            string(identity.Source),
		"provider":          identity.Provider,
		"roles":             string(rolesJSON),
		"mfa_enabled":       identity.MFAEnabled,
		"last_login":        identity.LastLogin,
		"is_active":         identity.IsActive,
		"risk_score":        identity.RiskScore,
		"linked_accounts":   string(linkedJSON),
		"group_membership":  string(groupsJSON),
		"privilege_tier":    string(identity.PrivilegeTier),
		"exposure_level":    identity.ExposureLevel,
		"attack_path_count": identity.AttackPathCount,
		"blast_radius":      identity.BlastRadius,
		"cloud_accounts":    string(cloudJSON),
		"updated_at":        time.Now().UTC(),
	}, nil
}

const identityColumns = `id, email, source, provider, roles, mfa_enabled, last_login,
	   is_active, risk_score, linked_accounts, group_membership,
	   privilege_tier, exposure_level, attack_path_count, blast_radius, cloud_accounts`

func scanIdentity(scanner interface {
	Scan(dest ...interface{}) error
}) (*types.UnifiedIdentity, error) {
	var identity types.UnifiedIdentity
	var source, tier string
	var provider sql.NullString
	var lastLogin sql.NullTime
	var rolesJSON, linkedJSON, groupsJSON, cloudJSON sql.NullString

	err := scanner.Scan(
		&identity.ID, &identity.Email, &source, &provider, &rolesJSON,
		&identity.MFAEnabled, &lastLogin, &identity.IsActive, &identity.RiskScore,
		&linkedJSON, &groupsJSON, &tier, &identity.ExposureLevel,
		&identity.AttackPathCount, &identity.BlastRadius, &cloudJSON,
	)
	if err != nil {
		return nil, err
	}

	identity.Source = types.IdentitySource(source)
	identity.PrivilegeTier = types.PrivilegeTier(tier)
	if provider.Valid {
		identity.Provider = provider.String
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		identity.LastLogin = &t
	}

	for _, pair := range []struct {
		raw  sql.NullString
		dest *[]string
	}{
		{rolesJSON, &identity.Roles},
		{linkedJSON, &identity.LinkedAccounts},
		{groupsJSON, &identity.GroupMembership},
		{cloudJSON, &identity.CloudAccounts},
	} {
		if pair.raw.Valid && pair.raw.String != "" {
			if err := json.Unmarshal([]byte(pair.raw.String), pair.dest); err != nil {
				return nil, fmt.Errorf("failed to unmarshal identity %s: %w", identity.ID, err)
			}
		}
	}

	return &identity, nil
}

// GetIdentity looks up by raw id alone. Rows are keyed (id, source, provider),
// so a bare numeric id can match records from several providers; the
// lowest-sorting source wins, matching a first-match lookup.
func (s *sqlStore) GetIdentity(ctx context.Context, id string) (*types.UnifiedIdentity, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM identities
		WHERE id = %s
		ORDER BY source, provider
		LIMIT 1
	`, identityColumns, s.getPlaceholder(1))

	row := s.db.QueryRowContext(ctx, query, id)
	identity, err := scanIdentity(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("failed to load identity %s: %v: %w", id, err, core.ErrStoreUnavailable)
	}

	return identity, nil
}

// filter bands match the dashboard buckets, not the flat risk levels
func riskLevelClause(level string) string {
	switch level {
	case "Critical":
		return " AND risk_score >= 80"
	case "High":
		return " AND risk_score >= 61 AND risk_score < 80"
	case "Medium":
		return " AND risk_score >= 31 AND risk_score < 61"
	case "Low":
		return " AND risk_score < 31"
	default:
		return ""
	}
}

var sortColumns = map[string]string{
	"riskScore": "risk_score",
	"email":     "email",
	"source":    "source",
	"lastLogin": "last_login",
}

func (s *sqlStore) ListIdentities(ctx context.Context, filter core.IdentityFilter) ([]*types.UnifiedIdentity, int, error) {
	where := " WHERE 1=1"
	args := map[string]interface{}{}

	if filter.Search != "" {
		where += " AND (LOWER(email) LIKE :search OR LOWER(id) LIKE :search OR LOWER(roles) LIKE :search)"
		args["search"] = "%" + strings.ToLower(filter.Search) + "%"
	}

	if filter.Source != "" && filter.Source != "all" {
		where += " AND source = :source"
		args["source"] = filter.Source
	}

	if filter.RiskLevel != "" && filter.RiskLevel != "all" {
		where += riskLevelClause(filter.RiskLevel)
	}

	total, err := s.countIdentities(ctx, where, args)
	if err != nil {
		s.logger.LogError(ctx, err, "database.ListIdentities.count")
		return []*types.UnifiedIdentity{}, 0, nil
	}

	query := "SELECT " + identityColumns + " FROM identities" + where

	column, ok := sortColumns[filter.SortBy]
	if !ok {
		column = "risk_score"
	}
	direction := "ASC"
	if filter.SortDesc {
		direction = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s", column, direction)

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.NamedQueryContext(ctx, query, args)
	if err != nil {
		// reads degrade to empty rather than failing the caller
		s.logger.LogError(ctx, err, "database.ListIdentities.query")
		return []*types.UnifiedIdentity{}, 0, nil
	}
	defer rows.Close()

	identities := []*types.UnifiedIdentity{}
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, 0, err
		}
		identities = append(identities, identity)
	}

	return identities, total, nil
}

func (s *sqlStore) countIdentities(ctx context.Context, where string, args map[string]interface{}) (int, error) {
	rows, err := s.db.NamedQueryContext(ctx, "SELECT COUNT(*) FROM identities"+where, args)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var total int
	if rows.Next() {
		if err := rows.Scan(&total); err != nil {
			return 0, err
		}
	}
	return total, nil
}

func (s *sqlStore) DeleteBySource(ctx context.Context, source string) error {
	query := fmt.Sprintf("DELETE FROM identities WHERE source = %s", s.getPlaceholder(1))

	start := time.Now()
	result, err := s.db.ExecContext(ctx, query, source)
	if err != nil {
		return fmt.Errorf("failed to delete identities for source %s: %w", source, err)
	}

	rowsAffected, _ := result.RowsAffected()
	s.logger.LogDatabaseOperation(ctx, "DELETE", "identities", rowsAffected, time.Since(start),
		"source", source,
	)

	return nil
}

func (s *sqlStore) SaveSyncRecord(ctx context.Context, record *types.SyncRecord) error {
	scoresJSON, err := json.Marshal(record.RiskScores)
	if err != nil {
		return fmt.Errorf("failed to marshal risk scores: %w", err)
	}

	query := `
		INSERT INTO sync_history (
			id, provider, timestamp, total_synced, privileged_count,
			risk_scores, avg_risk
		) VALUES (
			:id, :provider, :timestamp, :total_synced, :privileged_count,
			:risk_scores, :avg_risk
		)
	`

	args := map[string]interface{}{
		"id":               uuid.New().String(),
		"provider":         record.Provider,
		"timestamp":        record.Timestamp,
		"total_synced":     record.TotalSynced,
		"privileged_count": record.PrivilegedCount,
		"risk_scores":      string(scoresJSON),
		"avg_risk":         record.AvgRisk,
	}

	start := time.Now()
	result, err := s.db.NamedExecContext(ctx, query, args)
	if err != nil {
		return fmt.Errorf("failed to save sync record for %s: %w", record.Provider, err)
	}

	rowsAffected, _ := result.RowsAffected()
	s.logger.LogDatabaseOperation(ctx, "INSERT", "sync_history", rowsAffected, time.Since(start),
		"provider", record.Provider,
		"total_synced", record.TotalSynced,
	)

	return nil
}

func (s *sqlStore) ListSyncRecords(ctx context.Context, since *string, limit int) ([]types.SyncRecord, error) {
	query := `
		SELECT provider, timestamp, total_synced, privileged_count, risk_scores, avg_risk
		FROM sync_history
		WHERE 1=1
	`
	args := map[string]interface{}{}

	if since != nil && *since != "" {
		query += " AND timestamp >= :since"
		args["since"] = *since
	}

	query += " ORDER BY timestamp DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.NamedQueryContext(ctx, query, args)
	if err != nil {
		// reads degrade to empty rather than failing the caller
		s.logger.LogError(ctx, err, "database.ListSyncRecords.query")
		return []types.SyncRecord{}, nil
	}
	defer rows.Close()

	records := []types.SyncRecord{}
	for rows.Next() {
		var record types.SyncRecord
		var scoresJSON sql.NullString

		if err := rows.Scan(
			&record.Provider, &record.Timestamp, &record.TotalSynced,
			&record.PrivilegedCount, &scoresJSON, &record.AvgRisk,
		); err != nil {
			return nil, err
		}

		if scoresJSON.Valid && scoresJSON.String != "" {
			if err := json.Unmarshal([]byte(scoresJSON.String), &record.RiskScores); err != nil {
				return nil, fmt.Errorf("failed to unmarshal risk scores: %w", err)
			}
		}

		records = append(records, record)
	}

	return records, nil
}

func (s *sqlStore) SaveAuditEvent(ctx context.Context, action, actor string, metadata map[string]string) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal audit metadata: %w", err)
	}

	query := `
		INSERT INTO audit_events (id, action, actor, metadata, created_at)
		VALUES (:id, :action, :actor, :metadata, :created_at)
	`

	args := map[string]interface{}{
		"id":         uuid.New().String(),
		"action":     action,
		"actor":      actor,
		"metadata":   string(metaJSON),
		"created_at": time.Now().UTC(),
	}

	if _, err := s.db.NamedExecContext(ctx, query, args); err != nil {
		return fmt.Errorf("failed to save audit event: %w", err)
	}

	return nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}
