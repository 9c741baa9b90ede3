package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-prepaid-orders/internal/orders"
)

// BalanceRepo implements orders.BalanceRepository.
type BalanceRepo struct{ DB *pgxpool.Pool }

// Credit runs in the caller's transaction when there is one.
func (r *BalanceRepo) Credit(ctx context.Context, userID string, amount int64, refType, refID string, at time.Time) (orders.BalanceMutation, error) {
	var m orders.BalanceMutation
	err := withTx(ctx, r.DB, func(ctx context.Context) error {
		q := conn(ctx, r.DB)

		var before int64
		if err := q.QueryRow(ctx, `SELECT balance FROM users WHERE id=$1 FOR UPDATE`, userID).Scan(&before); err != nil {
			if isNoRows(err) {
				return orders.ErrUserNotFound
			}
			return err
		}

		m = orders.BalanceMutation{
			UserID:        userID,
			Amount:        amount,
			Type:          orders.MutationCredit,
			RefType:       refType,
			RefID:         refID,
			BalanceBefore: before,
			BalanceAfter:  before + amount,
			CreatedAt:     at,
		}
		err := q.QueryRow(ctx, `
			INSERT INTO balance_mutations(user_id, amount, type, ref_type, ref_id, balance_before, balance_after, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			RETURNING id`,
			m.UserID, m.Amount, string(m.Type), m.RefType, m.RefID, m.BalanceBefore, m.BalanceAfter, m.CreatedAt,
		).Scan(&m.ID)
		if isUniqueViolation(err) {
			return orders.Wrap(orders.ErrRefundAlreadyExists, err)
		}
		if err != nil {
			return err
		}

		_, err = q.Exec(ctx, `UPDATE users SET balance=$2 WHERE id=$1`, userID, m.BalanceAfter)
		return err
	})
	if err != nil {
		return orders.BalanceMutation{}, err
	}
	return m, nil
}

func (r *BalanceRepo) GetBalance(ctx context.Context, userID string) (int64, error) {
	var b int64
	err := conn(ctx, r.DB).QueryRow(ctx, `SELECT balance FROM users WHERE id=$1`, userID).Scan(&b)
	if isNoRows(err) {
		return 0, orders.ErrUserNotFound
	}
	return b, err
}

func (r *BalanceRepo) ListMutations(ctx context.Context, userID string) ([]orders.BalanceMutation, error) {
	rows, err := conn(ctx, r.DB).Query(ctx, `
		SELECT id, user_id, amount, type, ref_type, ref_id, balance_before, balance_after, created_at
		FROM balance_mutations WHERE user_id=$1 ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.BalanceMutation
	for rows.Next() {
		var (
			m   orders.BalanceMutation
			typ string
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.Amount, &typ, &m.RefType, &m.RefID, &m.BalanceBefore, &m.BalanceAfter, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Type = orders.MutationType(typ)
		out = append(out, m)
	}
	return out, rows.Err()
}
