package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

// UserRepo implements domain.SystemUserResolver against the minimal `users`
// table this runtime needs (id, is_admin); full user/auth modeling is out
// of scope (§1 Non-goals: "credential issuance").
type UserRepo struct {
	pool PgxPool
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(pool PgxPool) *UserRepo { return &UserRepo{pool: pool} }

var userTracer = otel.Tracer("adapter.repo.postgres.user")

// ResolveSystemUser picks the first admin user, falling back to the first
// user by id if no admin exists (§4.6).
func (r *UserRepo) ResolveSystemUser(ctx domain.Context) (domain.SystemUser, error) {
	ctx, span := userTracer.Start(ctx, "UserRepo.ResolveSystemUser")
	defer span.End()

	row := r.pool.QueryRow(ctx, `
		SELECT id, is_admin FROM users ORDER BY is_admin DESC, id ASC LIMIT 1`)
	var u domain.SystemUser
	if err := row.Scan(&u.ID, &u.IsAdmin); err != nil {
		if err == pgx.ErrNoRows {
			return domain.SystemUser{}, fmt.Errorf("op=ResolveSystemUser: %w", domain.ErrNoSystemUser)
		}
		return domain.SystemUser{}, fmt.Errorf("op=ResolveSystemUser: %w", err)
	}
	return u, nil
}
