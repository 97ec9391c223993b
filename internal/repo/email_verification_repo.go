package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/portalauth/internal/model"
	"github.com/xxxsen/portalauth/internal/pkg/dbutil"
	appErr "github.com/xxxsen/portalauth/internal/pkg/errors"
)

const emailVerificationTable = "email_verifications"

var emailVerificationFields = []string{"id", "username", "verification_code", "verified", "ctime", "mtime"}

type EmailVerificationRepo struct {
	db     *sql.DB
	driver string
}

func NewEmailVerificationRepo(db *sql.DB, driver string) *EmailVerificationRepo {
	return &EmailVerificationRepo{db: db, driver: driver}
}

func (r *EmailVerificationRepo) Create(ctx context.Context, item *model.EmailVerification) error {
	data := map[string]interface{}{
		"id":                item.ID,
		"username":          item.Username,
		"verification_code": item.VerificationCode,
		"verified":          boolToInt(item.Verified),
		"ctime":             item.Ctime,
		"mtime":             item.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert(emailVerificationTable, []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(r.driver, sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

func (r *EmailVerificationRepo) GetByCode(ctx context.Context, code string) (*model.EmailVerification, error) {
	where := map[string]interface{}{"verification_code": code}
	items, err := r.list(ctx, where)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, appErr.ErrNotFound
	}
	return &items[0], nil
}

func (r *EmailVerificationRepo) ListByUsername(ctx context.Context, username string) ([]model.EmailVerification, error) {
	where := map[string]interface{}{"username": username, "_orderby": "ctime desc"}
	return r.list(ctx, where)
}

// MarkVerified sets verified on the record. Writing an already verified row
// again is allowed so concurrent confirmations of one code both succeed.
func (r *EmailVerificationRepo) MarkVerified(ctx context.Context, id string, mtime int64) error {
	where := map[string]interface{}{"id": id}
	update := map[string]interface{}{"verified": 1, "mtime": mtime}
	sqlStr, args, err := builder.BuildUpdate(emailVerificationTable, where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(r.driver, sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

func (r *EmailVerificationRepo) CountPendingBefore(ctx context.Context, cutoff int64) (int64, error) {
	sqlStr, args := dbutil.Finalize(r.driver, "SELECT COUNT(1) FROM "+emailVerificationTable+" WHERE verified = ? AND ctime < ?", []interface{}{0, cutoff})
	var count int64
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *EmailVerificationRepo) list(ctx context.Context, where map[string]interface{}) ([]model.EmailVerification, error) {
	sqlStr, args, err := builder.BuildSelect(emailVerificationTable, where, emailVerificationFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(r.driver, sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var items []model.EmailVerification
	for rows.Next() {
		var (
			item     model.EmailVerification
			verified int
		)
		if err := rows.Scan(&item.ID, &item.Username, &item.VerificationCode, &verified, &item.Ctime, &item.Mtime); err != nil {
			return nil, err
		}
		item.Verified = verified != 0
		items = append(items, item)
	}
	return items, rows.Err()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
