package compat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ScepterCode/Project-Nest3-sub003/pkg/database"
	"github.com/ScepterCode/Project-Nest3-sub003/pkg/observability"
	"github.com/ScepterCode/Project-Nest3-sub003/pkg/roles"
)

// MigrationMode controls how the resolver treats legacy role data.
type MigrationMode string

const (
	// ModeStrict never consults legacy data.
	ModeStrict MigrationMode = "strict"
	// ModeHybrid falls back to legacy data and migrates it on read.
	ModeHybrid MigrationMode = "hybrid"
	// ModePermissive falls back to legacy data without migrating.
	ModePermissive MigrationMode = "permissive"
)

// Config fixes the resolver's behavior at construction.
type Config struct {
	LegacySupportEnabled bool
	MigrationMode        MigrationMode
	FallbackToLegacy     bool
	LogIssues            bool
}

// ErrInvalidMigrationMode is returned for an unrecognized migration mode.
var ErrInvalidMigrationMode = errors.New("invalid migration mode")

// ErrMigrationDisabled is returned when migration-on-read is invoked outside
// hybrid mode.
var ErrMigrationDisabled = errors.New("migration-on-read is disabled")

// Validate checks the configuration. Invalid modes fail at construction, not
// on first use.
func (c Config) Validate() error {
	switch c.MigrationMode {
	case ModeStrict, ModeHybrid, ModePermissive:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMigrationMode, c.MigrationMode)
	}
}

func (c Config) allowsLegacyFallback() bool {
	return c.LegacySupportEnabled && c.FallbackToLegacy && c.MigrationMode != ModeStrict
}

// CompatibilityStatus describes where a user's role data lives.
type CompatibilityStatus struct {
	HasNewRoleData    bool          `json:"hasNewRoleData"`
	HasLegacyRoleData bool          `json:"hasLegacyRoleData"`
	NeedsMigration    bool          `json:"needsMigration"`
	CompatibilityMode MigrationMode `json:"compatibilityMode"`
}

// Resolver answers role lookups across the legacy and new-model
// representations. All methods are safe for concurrent use.
type Resolver struct {
	store   *roles.Store
	cfg     Config
	sources []RoleSource
	cache   *RoleCache
	retry   database.RetryConfig
	logger  *observability.Logger
	metrics *observability.Metrics
}

// ResolverOption customizes a Resolver.
type ResolverOption func(*Resolver)

// WithCache attaches a role cache to the resolver.
func WithCache(cache *RoleCache) ResolverOption {
	return func(r *Resolver) { r.cache = cache }
}

// WithMetrics attaches resolution metrics to the resolver.
func WithMetrics(m *observability.Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// WithRetryConfig overrides the retry settings applied to storage reads.
func WithRetryConfig(cfg database.RetryConfig) ResolverOption {
	return func(r *Resolver) { r.retry = cfg }
}

// NewResolver creates a resolver. The configuration is validated eagerly.
func NewResolver(store *roles.Store, cfg Config, logger *observability.Logger, opts ...ResolverOption) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	r := &Resolver{
		store:   store,
		cfg:     cfg,
		sources: sourcesFor(cfg),
		retry:   database.DefaultRetryConfig(),
		logger:  logger.WithField("component", "compat_resolver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// GetUserRole resolves the user's effective role, or nil when none can be
// determined. Storage faults degrade to nil; only context cancellation is
// returned as an error.
func (r *Resolver) GetUserRole(ctx context.Context, userID string) (*roles.Role, error) {
	if r.cache != nil {
		if role, ok := r.cache.Get(ctx, userID); ok {
			r.countCache(true)
			return &role, nil
		}
		r.countCache(false)
	}

	user, err := r.readUser(ctx, userID)
	if err != nil {
		return nil, r.degrade(ctx, userID, "get user", err)
	}

	for _, source := range r.sources {
		role, ok := source.Resolve(user)
		if !ok {
			continue
		}
		r.countResolution(source.Name(), "resolved")

		if source.Name() == "legacy_model" && r.cfg.MigrationMode == ModeHybrid {
			if _, _, err := r.EnsureMigrated(ctx, user, role); err != nil {
				if isCancellation(ctx, err) {
					return nil, fmt.Errorf("failed to migrate user %s on read: %w", userID, err)
				}
				// The read still answers with the mapped role; the
				// failed repair is reported out of band.
				r.logIssue(userID, "migration-on-read failed", err)
			}
		}

		if r.cache != nil {
			r.cache.Set(ctx, userID, role)
		}
		return &role, nil
	}

	r.countResolution("none", "unresolved")
	return nil, nil
}

// GetUserRoles returns every distinct active-assignment role for the user.
// When no assignments exist it falls back to the single legacy-derived role
// under the same mode rules, without migrating.
func (r *Resolver) GetUserRoles(ctx context.Context, userID string) ([]roles.Role, error) {
	assignments, err := r.readActiveAssignments(ctx, userID)
	if err != nil {
		return nil, r.degrade(ctx, userID, "list assignments", err)
	}

	if len(assignments) > 0 {
		seen := make(map[roles.Role]bool, len(assignments))
		var out []roles.Role
		for _, a := range assignments {
			if !seen[a.Role] {
				seen[a.Role] = true
				out = append(out, a.Role)
			}
		}
		return out, nil
	}

	user, err := r.readUser(ctx, userID)
	if err != nil {
		return nil, r.degrade(ctx, userID, "get user", err)
	}
	for _, source := range r.sources {
		if role, ok := source.Resolve(user); ok {
			return []roles.Role{role}, nil
		}
	}
	return nil, nil
}

// HasRole reports whether the user currently holds the given role.
func (r *Resolver) HasRole(ctx context.Context, userID string, role roles.Role) (bool, error) {
	held, err := r.GetUserRoles(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, h := range held {
		if h == role {
			return true, nil
		}
	}
	return false, nil
}

// GetCompatibilityStatus reports which representations carry role data for
// the user and whether migration is still pending.
func (r *Resolver) GetCompatibilityStatus(ctx context.Context, userID string) (*CompatibilityStatus, error) {
	status := &CompatibilityStatus{CompatibilityMode: r.cfg.MigrationMode}

	user, err := r.readUser(ctx, userID)
	if err != nil {
		if degradeErr := r.degrade(ctx, userID, "get user", err); degradeErr != nil {
			return nil, degradeErr
		}
		return status, nil
	}

	status.HasLegacyRoleData = user.LegacyRole != nil
	status.HasNewRoleData = user.PrimaryRole != nil
	if !status.HasNewRoleData {
		assignments, err := r.readActiveAssignments(ctx, userID)
		if err != nil {
			if degradeErr := r.degrade(ctx, userID, "list assignments", err); degradeErr != nil {
				return nil, degradeErr
			}
		}
		status.HasNewRoleData = len(assignments) > 0
	}

	status.NeedsMigration = status.HasLegacyRoleData && !status.HasNewRoleData
	return status, nil
}

// EnsureMigrated creates the new-model representation of a legacy role if it
// does not already exist: an active assignment for the mapped role plus the
// user's primary role columns. The bool reports whether this call performed
// the migration. Safe under concurrent callers: a losing racer observes the
// winner's assignment instead of inserting a duplicate.
func (r *Resolver) EnsureMigrated(ctx context.Context, user *roles.User, role roles.Role) (*roles.RoleAssignment, bool, error) {
	if r.cfg.MigrationMode != ModeHybrid {
		return nil, false, ErrMigrationDisabled
	}

	existing, err := r.store.FindActiveAssignment(ctx, user.ID, role, user.InstitutionID, user.DepartmentID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, roles.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to check existing assignment: %w", err)
	}

	assignment := &roles.RoleAssignment{
		UserID:        user.ID,
		Role:          role,
		Status:        roles.AssignmentActive,
		AssignedBy:    user.ID,
		InstitutionID: user.InstitutionID,
		DepartmentID:  user.DepartmentID,
	}
	if err := r.store.CreateAssignment(ctx, assignment); err != nil {
		if errors.Is(err, roles.ErrConflict) {
			// Another caller migrated first. Fetch and return theirs.
			winner, fetchErr := r.store.FindActiveAssignment(ctx, user.ID, role, user.InstitutionID, user.DepartmentID)
			if fetchErr != nil {
				return nil, false, fmt.Errorf("failed to fetch concurrent migration result: %w", fetchErr)
			}
			return winner, false, nil
		}
		r.countMigration("error")
		return nil, false, fmt.Errorf("failed to create migrated assignment: %w", err)
	}

	active := roles.RoleStatusActive
	if err := r.store.SetUserRole(ctx, user.ID, &role, &active); err != nil {
		r.countMigration("error")
		return assignment, true, fmt.Errorf("failed to set primary role: %w", err)
	}
	entry := &roles.AuditEntry{
		UserID:    user.ID,
		NewRole:   role,
		ChangedAt: time.Now().UTC(),
		Actor:     user.ID,
	}
	if err := r.store.AppendAuditEntry(ctx, entry); err != nil {
		r.countMigration("error")
		return assignment, true, fmt.Errorf("failed to record migration in audit log: %w", err)
	}

	if r.cache != nil {
		r.cache.Invalidate(ctx, user.ID)
	}
	r.countMigration("migrated")
	r.logger.WithFields(map[string]interface{}{
		"user_id": user.ID,
		"role":    string(role),
	}).Info("migrated legacy role on read")
	return assignment, true, nil
}

// readUser fetches the user row, retrying transient storage faults.
func (r *Resolver) readUser(ctx context.Context, userID string) (*roles.User, error) {
	var user *roles.User
	err := database.WithRetry(ctx, r.retry, func(ctx context.Context) error {
		var readErr error
		user, readErr = r.store.GetUser(ctx, userID)
		return readErr
	})
	return user, err
}

// readActiveAssignments lists active assignments, retrying transient storage
// faults.
func (r *Resolver) readActiveAssignments(ctx context.Context, userID string) ([]roles.RoleAssignment, error) {
	var assignments []roles.RoleAssignment
	err := database.WithRetry(ctx, r.retry, func(ctx context.Context) error {
		var readErr error
		assignments, readErr = r.store.ListActiveAssignmentsForUser(ctx, userID)
		return readErr
	})
	return assignments, err
}

// degrade converts a storage fault on a read path into a nil result with a
// logged issue. Cancellation and deadline errors are returned instead.
func (r *Resolver) degrade(ctx context.Context, userID, op string, err error) error {
	if isCancellation(ctx, err) {
		return fmt.Errorf("failed to %s for %s: %w", op, userID, err)
	}
	if !errors.Is(err, roles.ErrNotFound) {
		r.logIssue(userID, "failed to "+op, err)
	}
	return nil
}

func (r *Resolver) logIssue(userID, message string, err error) {
	if !r.cfg.LogIssues {
		return
	}
	r.logger.WithField("user_id", userID).WithError(err).Warn(message)
}

func (r *Resolver) countResolution(source, outcome string) {
	if r.metrics != nil {
		r.metrics.RoleResolutionsTotal.WithLabelValues(source, outcome).Inc()
	}
}

func (r *Resolver) countMigration(outcome string) {
	if r.metrics != nil {
		r.metrics.RoleMigrationsTotal.WithLabelValues(outcome).Inc()
	}
}

func (r *Resolver) countCache(hit bool) {
	if r.metrics == nil {
		return
	}
	if hit {
		r.metrics.CacheHitsTotal.WithLabelValues("role").Inc()
	} else {
		r.metrics.CacheMissesTotal.WithLabelValues("role").Inc()
	}
}

func isCancellation(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil
}
