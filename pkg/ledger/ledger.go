// Package ledger implements C4, the credit ledger. Reserve is a single
// conditional UPDATE so a crash between "check balance" and "deduct
// balance" is impossible — there is no such interval (I3: credit
// conservation). Refund is a single unconditional UPDATE that adds back.
package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/synod-run/synod/pkg/models"
)

type Ledger struct {
	db *sql.DB
}

func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// EnsurePrincipal returns the principal, creating it with the given role and
// a free starting balance if it does not yet exist — the first-use account
// provisioning the original backend performs inline on first request.
func (l *Ledger) EnsurePrincipal(ctx context.Context, id uuid.UUID, role models.PrincipalRole, startingCredits int) (*models.Principal, error) {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO principals (id, role, credits, created_at) VALUES ($1, $2, $3, now())
		 ON CONFLICT (id) DO NOTHING`,
		id, role, startingCredits,
	)
	if err != nil {
		return nil, fmt.Errorf("ensure principal: %w", err)
	}
	return l.Get(ctx, id)
}

func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (*models.Principal, error) {
	var p models.Principal
	err := l.db.QueryRowContext(ctx,
		`SELECT id, role, credits FROM principals WHERE id = $1`, id,
	).Scan(&p.ID, &p.Role, &p.Credits)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get principal: %w", err)
	}
	return &p, nil
}

// Reserve atomically deducts amount credits, returning the remaining
// balance. PrincipalUnlimited bypasses reserve entirely — bypass(role) means
// the stored balance is never touched, not merely never enforced.
func (l *Ledger) Reserve(ctx context.Context, id uuid.UUID, amount int) (int, error) {
	principal, err := l.Get(ctx, id)
	if err != nil {
		return 0, err
	}

	if principal.Role == models.PrincipalUnlimited {
		return principal.Credits, nil
	}

	var remaining int
	err = l.db.QueryRowContext(ctx,
		`UPDATE principals SET credits = credits - $1 WHERE id = $2 AND credits >= $1 RETURNING credits`,
		amount, id,
	).Scan(&remaining)
	if err == sql.ErrNoRows {
		return 0, &InsufficientCreditsError{Required: amount, Available: principal.Credits}
	}
	if err != nil {
		return 0, fmt.Errorf("reserve credits: %w", err)
	}
	return remaining, nil
}

// Refund returns amount credits to the principal, used when a pipeline run
// fails after Reserve already deducted for it. PrincipalUnlimited is a
// no-op here too, symmetric with Reserve: bypass(role) skips both.
func (l *Ledger) Refund(ctx context.Context, id uuid.UUID, amount int) (int, error) {
	principal, err := l.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if principal.Role == models.PrincipalUnlimited {
		return principal.Credits, nil
	}

	var remaining int
	err = l.db.QueryRowContext(ctx,
		`UPDATE principals SET credits = credits + $1 WHERE id = $2 RETURNING credits`,
		amount, id,
	).Scan(&remaining)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("refund credits: %w", err)
	}
	return remaining, nil
}

// Balance returns the principal's current credit balance.
func (l *Ledger) Balance(ctx context.Context, id uuid.UUID) (int, error) {
	p, err := l.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return p.Credits, nil
}
