package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"openhr/internal/db"
)

var (
	ErrUserNotFound   = errors.New("user_not_found")
	ErrNotPlaceholder = errors.New("user_is_not_a_placeholder")
)

// repointTargets is the explicit list of foreign keys moved from a
// placeholder to the real user during reconciliation. New tables referencing
// users get an entry here; nothing relies on cascade triggers, so the set of
// affected tables stays auditable.
var repointTargets = []struct {
	table  string
	column string
}{
	{"guild_members", "user_id"},
	{"accounts", "user_id"},
}

// Reconciler merges a placeholder user into a real account. Invoked when an
// OAuth account is linked and the external identity turns out to already own
// placeholder-backed mirror rows.
type Reconciler struct {
	db     *db.DB
	logger *slog.Logger
}

func NewReconciler(logger *slog.Logger, dbConn *db.DB) *Reconciler {
	return &Reconciler{db: dbConn, logger: logger}
}

// MergePlaceholder repoints every dependent row from placeholderID to
// realUserID and deletes the placeholder, all in one transaction. Refuses to
// touch non-placeholder users.
func (r *Reconciler) MergePlaceholder(ctx context.Context, placeholderID, realUserID string) error {
	if placeholderID == realUserID {
		return nil
	}

	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("merge_begin_failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var isPlaceholder bool
	err = tx.QueryRow(ctx,
		`SELECT is_placeholder FROM users WHERE id = $1 FOR UPDATE`,
		placeholderID,
	).Scan(&isPlaceholder)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("merge_lookup_failed: %w", err)
	}
	if !isPlaceholder {
		return ErrNotPlaceholder
	}

	var realExists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`,
		realUserID,
	).Scan(&realExists); err != nil {
		return fmt.Errorf("merge_lookup_failed: %w", err)
	}
	if !realExists {
		return ErrUserNotFound
	}

	for _, target := range repointTargets {
		query := fmt.Sprintf(`UPDATE %s SET %s = $1 WHERE %s = $2`,
			target.table, target.column, target.column)
		tag, err := tx.Exec(ctx, query, realUserID, placeholderID)
		if err != nil {
			return fmt.Errorf("merge_repoint_failed: table=%s: %w", target.table, err)
		}
		if tag.RowsAffected() > 0 {
			r.logger.Debug("merge_repointed",
				"table", target.table,
				"rows", tag.RowsAffected(),
				"from", placeholderID,
				"to", realUserID,
			)
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, placeholderID); err != nil {
		return fmt.Errorf("merge_delete_failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("merge_commit_failed: %w", err)
	}

	r.logger.Info("placeholder_merged", "placeholder_id", placeholderID, "user_id", realUserID)
	return nil
}
