package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/escrow-desk/backend/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dealColumns = `id, creator_id, creator_name, bound_chat_id, group_invite_link,
	       buyer_address, seller_address, reported_tx_id, details, status, created_at, updated_at`

// activeChatIndex is the partial unique index from the migrations; a 23505 on
// it means another non-terminal deal is already bound to the chat.
const activeChatIndex = "deals_active_chat_uniq"

type DealRepo struct {
	pool *pgxpool.Pool
}

func NewDealRepo(pool *pgxpool.Pool) *DealRepo {
	return &DealRepo{pool: pool}
}

func scanDeal(row pgx.Row) (*models.Deal, error) {
	var d models.Deal
	err := row.Scan(&d.ID, &d.CreatorID, &d.CreatorName, &d.BoundChatID, &d.GroupInviteLink,
		&d.BuyerAddress, &d.SellerAddress, &d.ReportedTxID, &d.Details, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &d, nil
}

func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if pgErr.ConstraintName == activeChatIndex {
			return models.ErrChatHasActiveDeal
		}
	}
	return fmt.Errorf("%w: %v", models.ErrStorage, err)
}

func (r *DealRepo) Create(ctx context.Context, d *models.Deal) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO deals (id, creator_id, creator_name, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`, d.ID, d.CreatorID, d.CreatorName, d.Status).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (r *DealRepo) GetByID(ctx context.Context, id string) (*models.Deal, error) {
	return scanDeal(r.pool.QueryRow(ctx, `
		SELECT `+dealColumns+`
		FROM deals WHERE id = $1
	`, id))
}

// GetByBoundChat resolves the single active (non-terminal) deal bound to a
// chat. Terminal deals keep their bound_chat_id for history but never match.
func (r *DealRepo) GetByBoundChat(ctx context.Context, chatID int64) (*models.Deal, error) {
	return scanDeal(r.pool.QueryRow(ctx, `
		SELECT `+dealColumns+`
		FROM deals
		WHERE bound_chat_id = $1 AND status != ALL($2)
	`, chatID, models.TerminalStatuses))
}

// BindChat attaches a deal to a chat and advances it to waiting_deposit in a
// single conditional update. Zero rows means the deal is missing, already
// bound, or past the bindable statuses; the caller re-fetches to classify.
func (r *DealRepo) BindChat(ctx context.Context, id string, chatID int64, inviteLink string) (*models.Deal, error) {
	return scanDeal(r.pool.QueryRow(ctx, `
		UPDATE deals
		SET bound_chat_id = $2, group_invite_link = $3, status = $4, updated_at = now()
		WHERE id = $1 AND bound_chat_id IS NULL AND status = ANY($5)
		RETURNING `+dealColumns+`
	`, id, chatID, inviteLink, models.DealStatusWaitingDeposit, models.BindableStatuses))
}

// SetPartyAddress overwrites the buyer or seller address while the deal is
// non-terminal. The role maps to a fixed column; there is no dynamic
// field-name path.
func (r *DealRepo) SetPartyAddress(ctx context.Context, id, role, address string) (*models.Deal, error) {
	var column string
	switch role {
	case models.RoleBuyer:
		column = "buyer_address"
	case models.RoleSeller:
		column = "seller_address"
	default:
		return nil, fmt.Errorf("%w: unknown party role %q", models.ErrValidation, role)
	}
	return scanDeal(r.pool.QueryRow(ctx, `
		UPDATE deals
		SET `+column+` = $2, updated_at = now()
		WHERE id = $1 AND status != ALL($3)
		RETURNING `+dealColumns+`
	`, id, address, models.TerminalStatuses))
}

func (r *DealRepo) SetDetails(ctx context.Context, id, details string) (*models.Deal, error) {
	return scanDeal(r.pool.QueryRow(ctx, `
		UPDATE deals
		SET details = $2, updated_at = now()
		WHERE id = $1 AND status != ALL($3)
		RETURNING `+dealColumns+`
	`, id, details, models.TerminalStatuses))
}

// SetReportedTx records a deposit txid and advances to tx_submitted.
// Re-reporting while already tx_submitted overwrites the txid; anything past
// that is refused by the status guard.
func (r *DealRepo) SetReportedTx(ctx context.Context, id, txID string) (*models.Deal, error) {
	return scanDeal(r.pool.QueryRow(ctx, `
		UPDATE deals
		SET reported_tx_id = $2, status = $3, updated_at = now()
		WHERE id = $1 AND status = ANY($4)
		RETURNING `+dealColumns+`
	`, id, txID, models.DealStatusTxSubmitted,
		[]string{models.DealStatusWaitingDeposit, models.DealStatusTxSubmitted}))
}

// UpdateStatus performs a guarded transition: the row moves to `to` only if
// its current status is in `from`. Check and write are one statement, so two
// racing commands cannot both observe the old status.
func (r *DealRepo) UpdateStatus(ctx context.Context, id string, from []string, to string) (*models.Deal, error) {
	return scanDeal(r.pool.QueryRow(ctx, `
		UPDATE deals
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = ANY($3)
		RETURNING `+dealColumns+`
	`, id, to, from))
}

type DealFilter struct {
	Status      *string
	CreatorID   *int64
	BoundChatID *int64
	Limit       int
	Offset      int
}

func (r *DealRepo) List(ctx context.Context, f DealFilter) ([]models.Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *f.Status)
		argIdx++
	}
	if f.CreatorID != nil {
		where = append(where, fmt.Sprintf("creator_id = $%d", argIdx))
		args = append(args, *f.CreatorID)
		argIdx++
	}
	if f.BoundChatID != nil {
		where = append(where, fmt.Sprintf("bound_chat_id = $%d", argIdx))
		args = append(args, *f.BoundChatID)
		argIdx++
	}

	if len(where) > 0 {
		query += " WHERE "
		for i, w := range where {
			if i > 0 {
				query += " AND "
			}
			query += w
		}
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var deals []models.Deal
	for rows.Next() {
		var d models.Deal
		if err := rows.Scan(&d.ID, &d.CreatorID, &d.CreatorName, &d.BoundChatID, &d.GroupInviteLink,
			&d.BuyerAddress, &d.SellerAddress, &d.ReportedTxID, &d.Details, &d.Status, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, mapError(err)
		}
		deals = append(deals, d)
	}
	return deals, nil
}
