package application

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"franchise-license-workers/internal/common/errors"
	"franchise-license-workers/internal/models"

	"github.com/lib/pq"
)

const selectApplication = `
	SELECT a.id, a.applicant_account, a.franchise_id, f.owner_account, a.cover_letter,
	       a.price::text, a.status, a.rejection_reason, a.payment_block_index,
	       a.license_token_id, a.created_at, a.updated_at
	FROM applications a
	JOIN franchises f ON f.id = a.franchise_id`

// PostgresRegistry implements Registry on the marketplace database.
type PostgresRegistry struct {
	db *sql.DB
}

func NewPostgresRegistry(db *sql.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanApplication(row rowScanner) (*models.Application, error) {
	var (
		app     models.Application
		status  string
		reason  sql.NullString
		block   sql.NullInt64
		tokenID sql.NullInt64
	)
	if err := row.Scan(&app.ID, &app.ApplicantAccount, &app.FranchiseID, &app.OwnerAccount,
		&app.CoverLetter, &app.Price, &status, &reason, &block, &tokenID,
		&app.CreatedAt, &app.UpdatedAt); err != nil {
		return nil, err
	}

	app.Status = models.ApplicationStatus(status)
	if reason.Valid {
		app.RejectionReason = &reason.String
	}
	if block.Valid {
		v := uint64(block.Int64)
		app.PaymentBlockIndex = &v
	}
	if tokenID.Valid {
		v := uint64(tokenID.Int64)
		app.LicenseTokenID = &v
	}
	return &app, nil
}

func (r *PostgresRegistry) Get(ctx context.Context, id int64) (*models.Application, error) {
	app, err := scanApplication(r.db.QueryRowContext(ctx, selectApplication+` WHERE a.id = $1`, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewApplicationNotFoundError(id)
	}
	if err != nil {
		return nil, dbError("get application", err)
	}
	return app, nil
}

func (r *PostgresRegistry) Franchise(ctx context.Context, franchiseID string) (*models.Franchise, error) {
	var f models.Franchise
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, description, image_uri, owner_account, license_duration
		FROM franchises WHERE id = $1`, franchiseID).
		Scan(&f.ID, &f.Name, &f.Description, &f.ImageURI, &f.OwnerAccount, &f.LicenseDuration)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewInvalidInputError(fmt.Sprintf("franchise %s not found", franchiseID))
	}
	if err != nil {
		return nil, dbError("get franchise", err)
	}
	return &f, nil
}

func (r *PostgresRegistry) Approve(ctx context.Context, id int64, caller string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE applications a SET status = $3, updated_at = NOW()
		FROM franchises f
		WHERE a.id = $1 AND a.franchise_id = f.id AND f.owner_account = $2 AND a.status = $4`,
		id, caller, models.StatusPendingPayment, models.StatusSubmitted)
	if err != nil {
		return dbError("approve application", err)
	}
	return r.checkReview(ctx, res, id, caller)
}

func (r *PostgresRegistry) Reject(ctx context.Context, id int64, caller, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return errors.NewRejectionReasonRequiredError(id)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE applications a SET status = $3, rejection_reason = $5, updated_at = NOW()
		FROM franchises f
		WHERE a.id = $1 AND a.franchise_id = f.id AND f.owner_account = $2 AND a.status = $4`,
		id, caller, models.StatusRejected, models.StatusSubmitted, reason)
	if err != nil {
		return dbError("reject application", err)
	}
	return r.checkReview(ctx, res, id, caller)
}

// checkReview explains why a review update matched no row.
func (r *PostgresRegistry) checkReview(ctx context.Context, res sql.Result, id int64, caller string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return dbError("rows affected", err)
	}
	if n == 1 {
		return nil
	}

	app, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if app.OwnerAccount != caller {
		return errors.NewNotAuthorizedError(id, caller)
	}
	return errors.NewInvalidStateError(id, string(app.Status), string(models.StatusSubmitted))
}

func (r *PostgresRegistry) RecordPayment(ctx context.Context, id int64, blockIndex uint64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE applications SET status = $3, payment_block_index = $2, updated_at = NOW()
		WHERE id = $1 AND status = $4`,
		id, int64(blockIndex), models.StatusPaid, models.StatusPendingPayment)
	if err != nil {
		return false, dbError("record payment", err)
	}

	return r.checkTransition(ctx, res, id, models.StatusPendingPayment, func(app *models.Application) bool {
		return app.Status != models.StatusPendingPayment && app.Status != models.StatusSubmitted &&
			app.Status != models.StatusRejected &&
			app.PaymentBlockIndex != nil && *app.PaymentBlockIndex == blockIndex
	})
}

func (r *PostgresRegistry) CompleteApplication(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE applications SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3`,
		id, models.StatusAwaitingIssuance, models.StatusPaid)
	if err != nil {
		return false, dbError("complete application", err)
	}

	return r.checkTransition(ctx, res, id, models.StatusPaid, func(app *models.Application) bool {
		return app.Status == models.StatusAwaitingIssuance
	})
}

func (r *PostgresRegistry) RecordLicenseToken(ctx context.Context, id int64, tokenID uint64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE applications SET license_token_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3 AND license_token_id IS NULL`,
		id, int64(tokenID), models.StatusAwaitingIssuance)
	if err != nil {
		return false, dbError("record license token", err)
	}

	return r.checkTransition(ctx, res, id, models.StatusAwaitingIssuance, func(app *models.Application) bool {
		return (app.Status == models.StatusAwaitingIssuance || app.Status == models.StatusIssued) &&
			app.LicenseTokenID != nil && *app.LicenseTokenID == tokenID
	})
}

// MarkIssued refuses a token other than the one recorded at mint time.
func (r *PostgresRegistry) MarkIssued(ctx context.Context, id int64, tokenID uint64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE applications SET status = $3, license_token_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = $4 AND (license_token_id IS NULL OR license_token_id = $2)`,
		id, int64(tokenID), models.StatusIssued, models.StatusAwaitingIssuance)
	if err != nil {
		return false, dbError("mark issued", err)
	}

	return r.checkTransition(ctx, res, id, models.StatusAwaitingIssuance, func(app *models.Application) bool {
		return app.Status == models.StatusIssued && app.LicenseTokenID != nil && *app.LicenseTokenID == tokenID
	})
}

// checkTransition returns applied=true when the guarded update matched. Otherwise it re-reads
// the application: done reports whether the transition already happened with the same evidence.
func (r *PostgresRegistry) checkTransition(ctx context.Context, res sql.Result, id int64,
	expected models.ApplicationStatus, done func(*models.Application) bool) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, dbError("rows affected", err)
	}
	if n == 1 {
		return true, nil
	}

	app, err := r.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if done(app) {
		return false, nil
	}
	return false, errors.NewInvalidStateError(id, string(app.Status), string(expected))
}

func (r *PostgresRegistry) ListStale(ctx context.Context, statuses []models.ApplicationStatus, olderThan time.Time) ([]models.Application, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	rows, err := r.db.QueryContext(ctx, selectApplication+`
		WHERE a.status = ANY($1) AND a.updated_at < $2
		ORDER BY a.updated_at`, pq.Array(names), olderThan)
	if err != nil {
		return nil, dbError("list stale applications", err)
	}
	defer rows.Close()

	var apps []models.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, dbError("scan application", err)
		}
		apps = append(apps, *app)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterate applications", err)
	}
	return apps, nil
}

// dbError marks connection-level failures as retryable. Other Postgres errors (constraint,
// syntax, data) are not worth retrying.
func dbError(op string, err error) error {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "40", "53", "57":
			return errors.NewDatabaseConnectionFailedError(fmt.Errorf("%s: %w", op, err))
		default:
			return fmt.Errorf("%s: postgres %s: %w", op, pqErr.Code, err)
		}
	}
	return errors.NewDatabaseConnectionFailedError(fmt.Errorf("%s: %w", op, err))
}
