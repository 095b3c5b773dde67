// Package directory is the Postgres backing store for the cache layers.
// Platform-wide records (tenants, plans, platform users) live in the
// public schema; each tenant's users, profiles and custom permissions
// live in the tenant's own schema.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/devel-fonseca/ilpi-core/pkg/identity"
	"github.com/devel-fonseca/ilpi-core/pkg/observability"
	"github.com/devel-fonseca/ilpi-core/pkg/permissions"
	"github.com/devel-fonseca/ilpi-core/pkg/tenancy"
)

// Postgres implements the lookup and mutation interfaces of the tenancy,
// permissions and identity packages over one shared connection pool.
type Postgres struct {
	db      *sql.DB
	logger  *observability.Logger
	metrics *observability.Metrics
}

// Open connects to Postgres and configures the pool.
func Open(url string, maxOpen, maxIdle int, logger *observability.Logger, metrics *observability.Metrics) (*Postgres, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return New(db, logger, metrics), nil
}

// New wraps an existing pool, used by tests.
func New(db *sql.DB, logger *observability.Logger, metrics *observability.Metrics) *Postgres {
	return &Postgres{
		db:      db,
		logger:  logger.WithField("component", "directory"),
		metrics: metrics,
	}
}

// DB exposes the underlying pool for health checks.
func (p *Postgres) DB() *sql.DB {
	return p.db
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) observe(lookup string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.metrics.DirectoryLookupsTotal.WithLabelValues(lookup, status).Inc()
}

// GetSchemaName implements tenancy.Directory. Returns "" for an unknown
// tenant.
func (p *Postgres) GetSchemaName(ctx context.Context, tenantID string) (string, error) {
	var schema string
	err := p.db.QueryRowContext(ctx,
		`SELECT schema_name FROM public.tenants WHERE id = $1`,
		tenantID,
	).Scan(&schema)
	if errors.Is(err, sql.ErrNoRows) {
		p.observe("schema_name", nil)
		return "", nil
	}
	p.observe("schema_name", err)
	if err != nil {
		return "", fmt.Errorf("querying tenant schema: %w", err)
	}
	return schema, nil
}

// GetTenant implements tenancy.Directory. Returns (nil, nil) for an
// unknown tenant.
func (p *Postgres) GetTenant(ctx context.Context, tenantID string) (*tenancy.Snapshot, error) {
	snap := &tenancy.Snapshot{}
	var tradeName sql.NullString
	err := p.db.QueryRowContext(ctx, `
		SELECT t.id, t.name, t.schema_name, t.is_active, p.trade_name
		FROM public.tenants t
		LEFT JOIN public.tenant_profiles p ON p.tenant_id = t.id
		WHERE t.id = $1`,
		tenantID,
	).Scan(&snap.ID, &snap.Name, &snap.SchemaName, &snap.IsActive, &tradeName)
	if errors.Is(err, sql.ErrNoRows) {
		p.observe("tenant", nil)
		return nil, nil
	}
	if err != nil {
		p.observe("tenant", err)
		return nil, fmt.Errorf("querying tenant: %w", err)
	}
	if tradeName.Valid {
		snap.Profile = &tenancy.Profile{TradeName: tradeName.String}
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT s.id, s.status, pl.id, pl.name, pl.max_residents, pl.max_users
		FROM public.subscriptions s
		JOIN public.plans pl ON pl.id = s.plan_id
		WHERE s.tenant_id = $1
		ORDER BY s.created_at DESC`,
		tenantID,
	)
	if err != nil {
		p.observe("tenant", err)
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sub tenancy.Subscription
		if err := rows.Scan(&sub.ID, &sub.Status, &sub.Plan.ID, &sub.Plan.Name, &sub.Plan.MaxResidents, &sub.Plan.MaxUsers); err != nil {
			p.observe("tenant", err)
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		snap.Subscriptions = append(snap.Subscriptions, sub)
	}
	if err := rows.Err(); err != nil {
		p.observe("tenant", err)
		return nil, fmt.Errorf("reading subscriptions: %w", err)
	}

	p.observe("tenant", nil)
	return snap, nil
}

// ListTenantIDs implements tenancy.Directory, returning active tenants.
func (p *Postgres) ListTenantIDs(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id FROM public.tenants WHERE is_active ORDER BY created_at`,
	)
	if err != nil {
		p.observe("tenant_list", err)
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			p.observe("tenant_list", err)
			return nil, fmt.Errorf("scanning tenant id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		p.observe("tenant_list", err)
		return nil, fmt.Errorf("reading tenant ids: %w", err)
	}

	p.observe("tenant_list", nil)
	return ids, nil
}

// activeSchemaNames returns the schema of every active tenant, used to
// build cross-schema scans.
func (p *Postgres) activeSchemaNames(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT schema_name FROM public.tenants WHERE is_active ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing tenant schemas: %w", err)
	}
	defer rows.Close()

	var schemas []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scanning schema name: %w", err)
		}
		schemas = append(schemas, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading schema names: %w", err)
	}
	return schemas, nil
}

// FindPlatformUser implements identity.UserSource.
func (p *Postgres) FindPlatformUser(ctx context.Context, userID string) (*identity.User, error) {
	u := &identity.User{}
	err := p.db.QueryRowContext(ctx,
		`SELECT id, email, name, role, is_active FROM public.users WHERE id = $1`,
		userID,
	).Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		p.observe("platform_user", nil)
		return nil, nil
	}
	p.observe("platform_user", err)
	if err != nil {
		return nil, fmt.Errorf("querying platform user: %w", err)
	}
	return u, nil
}

// FindUserInSchema implements identity.UserSource.
func (p *Postgres) FindUserInSchema(ctx context.Context, schemaName, userID string) (*identity.User, error) {
	u := &identity.User{}
	query := fmt.Sprintf(
		`SELECT id, email, name, role, is_active, tenant_id FROM %s.users WHERE id = $1`,
		pq.QuoteIdentifier(schemaName),
	)
	err := p.db.QueryRowContext(ctx, query, userID).Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.IsActive, &u.TenantID)
	if errors.Is(err, sql.ErrNoRows) {
		p.observe("tenant_user", nil)
		return nil, nil
	}
	p.observe("tenant_user", err)
	if err != nil {
		return nil, fmt.Errorf("querying user in %s: %w", schemaName, err)
	}
	return u, nil
}

// FindUserSchema implements identity.UserSource: a UNION ALL probe across
// every active tenant schema. Expensive, so callers cache the outcome;
// it exists for tokens without a tenant hint.
func (p *Postgres) FindUserSchema(ctx context.Context, userID string) (string, error) {
	schemas, err := p.activeSchemaNames(ctx)
	if err != nil {
		p.observe("user_schema_scan", err)
		return "", err
	}
	if len(schemas) == 0 {
		p.observe("user_schema_scan", nil)
		return "", nil
	}

	parts := make([]string, len(schemas))
	for i, s := range schemas {
		parts[i] = fmt.Sprintf(
			`SELECT %s AS schema_name FROM %s.users WHERE id = $1`,
			pq.QuoteLiteral(s), pq.QuoteIdentifier(s),
		)
	}
	query := strings.Join(parts, " UNION ALL ") + " LIMIT 1"

	var schema string
	err = p.db.QueryRowContext(ctx, query, userID).Scan(&schema)
	if errors.Is(err, sql.ErrNoRows) {
		p.observe("user_schema_scan", nil)
		return "", nil
	}
	p.observe("user_schema_scan", err)
	if err != nil {
		return "", fmt.Errorf("scanning schemas for user: %w", err)
	}
	return schema, nil
}

// FetchSnapshot implements permissions.SnapshotSource. The user is
// located by schema scan, then the profile and custom permissions are
// loaded from the owning schema. Returns (nil, nil) for an unknown user.
func (p *Postgres) FetchSnapshot(ctx context.Context, userID string) (*permissions.Snapshot, error) {
	schema, err := p.FindUserSchema(ctx, userID)
	if err != nil {
		return nil, err
	}
	if schema == "" {
		// Platform users have no tenant and no position profile.
		u, err := p.FindPlatformUser(ctx, userID)
		if err != nil || u == nil {
			return nil, err
		}
		return &permissions.Snapshot{UserID: u.ID, Role: u.Role}, nil
	}

	snap := &permissions.Snapshot{}
	var profileID sql.NullString
	var positionCode sql.NullString
	query := fmt.Sprintf(`
		SELECT u.id, u.tenant_id, u.role, p.id, p.position_code
		FROM %s.users u
		LEFT JOIN %s.user_profiles p ON p.user_id = u.id
		WHERE u.id = $1`,
		pq.QuoteIdentifier(schema), pq.QuoteIdentifier(schema),
	)
	err = p.db.QueryRowContext(ctx, query, userID).Scan(&snap.UserID, &snap.TenantID, &snap.Role, &profileID, &positionCode)
	if errors.Is(err, sql.ErrNoRows) {
		p.observe("permission_snapshot", nil)
		return nil, nil
	}
	if err != nil {
		p.observe("permission_snapshot", err)
		return nil, fmt.Errorf("querying permission snapshot: %w", err)
	}
	if !profileID.Valid {
		p.observe("permission_snapshot", nil)
		return snap, nil
	}

	snap.Profile = &permissions.Profile{
		ID:           profileID.String,
		PositionCode: permissions.PositionCode(positionCode.String),
	}

	query = fmt.Sprintf(`
		SELECT permission, is_granted
		FROM %s.user_custom_permissions
		WHERE profile_id = $1
		ORDER BY created_at`,
		pq.QuoteIdentifier(schema),
	)
	rows, err := p.db.QueryContext(ctx, query, snap.Profile.ID)
	if err != nil {
		p.observe("permission_snapshot", err)
		return nil, fmt.Errorf("querying custom permissions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cp permissions.CustomPermission
		if err := rows.Scan(&cp.Permission, &cp.IsGranted); err != nil {
			p.observe("permission_snapshot", err)
			return nil, fmt.Errorf("scanning custom permission: %w", err)
		}
		snap.Profile.CustomPermissions = append(snap.Profile.CustomPermissions, cp)
	}
	if err := rows.Err(); err != nil {
		p.observe("permission_snapshot", err)
		return nil, fmt.Errorf("reading custom permissions: %w", err)
	}

	p.observe("permission_snapshot", nil)
	return snap, nil
}

// schemaFor resolves a tenant's schema or fails; mutations never probe
// across schemas.
func (p *Postgres) schemaFor(ctx context.Context, tenantID string) (string, error) {
	schema, err := p.GetSchemaName(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if schema == "" {
		return "", fmt.Errorf("%w: %s", tenancy.ErrTenantNotFound, tenantID)
	}
	return schema, nil
}

// UpsertCustomPermission implements permissions.MutationStore.
func (p *Postgres) UpsertCustomPermission(ctx context.Context, tenantID, userID string, perm permissions.Permission, isGranted bool, grantedBy string) error {
	schema, err := p.schemaFor(ctx, tenantID)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s.user_custom_permissions (id, profile_id, permission, is_granted, granted_by)
		SELECT $5, p.id, $2, $3, $4 FROM %s.user_profiles p WHERE p.user_id = $1
		ON CONFLICT (profile_id, permission)
		DO UPDATE SET is_granted = EXCLUDED.is_granted, granted_by = EXCLUDED.granted_by, updated_at = now()`,
		pq.QuoteIdentifier(schema), pq.QuoteIdentifier(schema),
	)
	res, err := p.db.ExecContext(ctx, query, userID, string(perm), isGranted, grantedBy, uuid.NewString())
	if err != nil {
		return fmt.Errorf("upserting custom permission: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s has no profile in tenant %s", userID, tenantID)
	}
	return nil
}

// DeleteCustomPermission implements permissions.MutationStore. Deleting a
// non-existent entry is a no-op.
func (p *Postgres) DeleteCustomPermission(ctx context.Context, tenantID, userID string, perm permissions.Permission) error {
	schema, err := p.schemaFor(ctx, tenantID)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		DELETE FROM %s.user_custom_permissions cp
		USING %s.user_profiles p
		WHERE cp.profile_id = p.id AND p.user_id = $1 AND cp.permission = $2`,
		pq.QuoteIdentifier(schema), pq.QuoteIdentifier(schema),
	)
	if _, err := p.db.ExecContext(ctx, query, userID, string(perm)); err != nil {
		return fmt.Errorf("deleting custom permission: %w", err)
	}
	return nil
}

// UpdatePosition implements permissions.MutationStore.
func (p *Postgres) UpdatePosition(ctx context.Context, tenantID, userID string, code permissions.PositionCode, reg *permissions.Registration, updatedBy string) error {
	schema, err := p.schemaFor(ctx, tenantID)
	if err != nil {
		return err
	}

	var regType, regNumber, regState sql.NullString
	if reg != nil {
		regType = sql.NullString{String: reg.Type, Valid: true}
		regNumber = sql.NullString{String: reg.Number, Valid: true}
		regState = sql.NullString{String: reg.State, Valid: true}
	}

	query := fmt.Sprintf(`
		UPDATE %s.user_profiles
		SET position_code = $2,
		    registration_type = $3,
		    registration_number = $4,
		    registration_state = $5,
		    updated_by = $6,
		    updated_at = now()
		WHERE user_id = $1`,
		pq.QuoteIdentifier(schema),
	)
	res, err := p.db.ExecContext(ctx, query, userID, string(code), regType, regNumber, regState, updatedBy)
	if err != nil {
		return fmt.Errorf("updating position: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s has no profile in tenant %s", userID, tenantID)
	}
	return nil
}
