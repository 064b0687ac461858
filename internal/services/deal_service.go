package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/escrow-desk/backend/internal/addrs"
	"github.com/escrow-desk/backend/internal/config"
	"github.com/escrow-desk/backend/internal/events"
	"github.com/escrow-desk/backend/internal/models"
	"github.com/escrow-desk/backend/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DealStore is the narrow repository contract the lifecycle engine consumes.
// Every mutating call is a conditional update: the status/binding guard and
// the write happen in one statement, so two racing commands cannot both
// observe the old state. A guard miss surfaces as models.ErrNotFound and is
// classified by the engine.
type DealStore interface {
	Create(ctx context.Context, d *models.Deal) error
	GetByID(ctx context.Context, id string) (*models.Deal, error)
	GetByBoundChat(ctx context.Context, chatID int64) (*models.Deal, error)
	BindChat(ctx context.Context, id string, chatID int64, inviteLink string) (*models.Deal, error)
	SetPartyAddress(ctx context.Context, id, role, address string) (*models.Deal, error)
	SetDetails(ctx context.Context, id, details string) (*models.Deal, error)
	SetReportedTx(ctx context.Context, id, txID string) (*models.Deal, error)
	UpdateStatus(ctx context.Context, id string, from []string, to string) (*models.Deal, error)
	List(ctx context.Context, f repositories.DealFilter) ([]models.Deal, error)
}

// AuditSink records lifecycle actions. Failures never fail the action.
type AuditSink interface {
	Log(ctx context.Context, entry models.AuditLog) error
	GetByDeal(ctx context.Context, dealID string, limit, offset int) ([]models.AuditLog, error)
}

// ResolvedFrom tells how a deal reference was resolved.
type ResolvedFrom string

const (
	ResolvedFromID   ResolvedFrom = "id"
	ResolvedFromChat ResolvedFrom = "chat"
)

type DealService struct {
	store     DealStore
	audit     AuditSink
	publisher events.Publisher
	cfg       *config.Config
	log       *zap.Logger
}

func NewDealService(store DealStore, audit AuditSink, publisher events.Publisher, cfg *config.Config, log *zap.Logger) *DealService {
	return &DealService{
		store:     store,
		audit:     audit,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
	}
}

// NewDealCode allocates a short human-typable deal code. Uniqueness is
// backstopped by the primary key; a collision surfaces as a storage error.
func NewDealCode() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "esc-" + raw[:8]
}

// Create opens a fresh deal with no bound chat.
func (s *DealService) Create(ctx context.Context, creatorID int64, creatorName string) (*models.Deal, error) {
	deal := &models.Deal{
		ID:          NewDealCode(),
		CreatorID:   creatorID,
		CreatorName: creatorName,
		Status:      models.DealStatusCreated,
	}
	if err := s.store.Create(ctx, deal); err != nil {
		return nil, err
	}

	_ = s.audit.Log(ctx, models.AuditLog{
		ActorTelegramID: &creatorID,
		ActorType:       "user",
		Action:          "deal_created",
		DealID:          &deal.ID,
	})
	return deal, nil
}

// Bind attaches a fresh deal to a group chat and advances it to
// waiting_deposit. Only a never-bound deal in a bindable status qualifies;
// a deal bound elsewhere yields ErrAlreadyBound, a chat that already hosts
// an active deal yields ErrChatHasActiveDeal.
func (s *DealService) Bind(ctx context.Context, dealID string, chatID int64, requesterID int64, inviteLink string) (*models.Deal, error) {
	// Fast path for the one-active-deal invariant; the partial unique index
	// behind BindChat catches the race this check can lose.
	if existing, err := s.store.GetByBoundChat(ctx, chatID); err == nil && existing.ID != dealID {
		return nil, fmt.Errorf("%w: chat is hosting deal %s", models.ErrChatHasActiveDeal, existing.ID)
	} else if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	deal, err := s.store.BindChat(ctx, dealID, chatID, inviteLink)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, s.classifyBindFailure(ctx, dealID, chatID)
		}
		return nil, err
	}

	oldStatus := models.DealStatusCreated
	s.recordTransition(ctx, deal, oldStatus, &requesterID, "user")

	s.notifyChat(ctx, chatID,
		fmt.Sprintf("Escrow %s initialized for this group. Use /dd to set deal details, /buyer and /seller to set addresses, then /deposit <TXID> after sending funds.", deal.ID))

	return deal, nil
}

// classifyBindFailure turns a missed bind guard into the precise error.
func (s *DealService) classifyBindFailure(ctx context.Context, dealID string, chatID int64) error {
	deal, err := s.store.GetByID(ctx, dealID)
	if err != nil {
		return err
	}
	switch {
	case deal.IsBoundTo(chatID):
		return fmt.Errorf("%w: deal %s is already initialized in this chat", models.ErrInvalidState, deal.ID)
	case deal.BoundChatID != nil:
		return fmt.Errorf("%w: deal %s", models.ErrAlreadyBound, deal.ID)
	default:
		return fmt.Errorf("%w: deal %s is %s", models.ErrInvalidState, deal.ID, deal.Status)
	}
}

// SetParty stores a buyer or seller address. The deal is resolved through
// the caller's chat, which is what keeps an unrelated chat from writing into
// someone else's deal.
func (s *DealService) SetParty(ctx context.Context, chatID int64, requesterID int64, role, address string) (*models.Deal, error) {
	if !models.IsValidRole(role) {
		return nil, fmt.Errorf("%w: unknown party role %q", models.ErrValidation, role)
	}
	if err := addrs.Validate(address); err != nil {
		return nil, err
	}

	deal, err := s.store.GetByBoundChat(ctx, chatID)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.SetPartyAddress(ctx, deal.ID, role, address)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: deal %s is closed", models.ErrInvalidState, deal.ID)
		}
		return nil, err
	}

	_ = s.audit.Log(ctx, models.AuditLog{
		ActorTelegramID: &requesterID,
		ActorType:       "user",
		Action:          "deal_set_" + role,
		DealID:          &deal.ID,
		Meta:            map[string]any{"network_guess": addrs.Sniff(address)},
	})
	return updated, nil
}

// SetDetails stores free-text terms (amount/rate/conditions) for the deal
// bound to the caller's chat.
func (s *DealService) SetDetails(ctx context.Context, chatID int64, requesterID int64, details string) (*models.Deal, error) {
	details = strings.TrimSpace(details)
	if details == "" {
		return nil, fmt.Errorf("%w: details are empty", models.ErrValidation)
	}

	deal, err := s.store.GetByBoundChat(ctx, chatID)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.SetDetails(ctx, deal.ID, details)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: deal %s is closed", models.ErrInvalidState, deal.ID)
		}
		return nil, err
	}

	_ = s.audit.Log(ctx, models.AuditLog{
		ActorTelegramID: &requesterID,
		ActorType:       "user",
		Action:          "deal_set_details",
		DealID:          &deal.ID,
	})
	return updated, nil
}

// ReportTx records a deposit transaction id and advances the deal to
// tx_submitted. Re-reporting while tx_submitted overwrites the id (buyers
// mistype); once the admin confirmed receipt the evidentiary trail is
// frozen. Emits an admin alert intent.
func (s *DealService) ReportTx(ctx context.Context, explicitID string, chatID int64, requesterID int64, txID string) (*models.Deal, error) {
	txID = strings.TrimSpace(txID)
	if txID == "" || strings.ContainsAny(txID, " \t\n") || len(txID) > 160 {
		return nil, fmt.Errorf("%w: bad transaction id", models.ErrValidation)
	}

	deal, _, err := s.Resolve(ctx, explicitID, chatID)
	if err != nil {
		return nil, err
	}

	oldStatus := deal.Status
	updated, err := s.store.SetReportedTx(ctx, deal.ID, txID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: deal %s is %s, deposit reporting is closed", models.ErrInvalidState, deal.ID, deal.Status)
		}
		return nil, err
	}

	if oldStatus != updated.Status {
		s.recordTransition(ctx, updated, oldStatus, &requesterID, "user")
	} else {
		_ = s.audit.Log(ctx, models.AuditLog{
			ActorTelegramID: &requesterID,
			ActorType:       "user",
			Action:          "deal_tx_rereported",
			DealID:          &updated.ID,
			Meta:            map[string]any{"txid": txID},
		})
	}

	s.notifyAdmins(ctx, fmt.Sprintf("🔔 New deposit reported\nEscrow: %s\nTXID: %s\nCheck and /mark_received %s when you confirm.", updated.ID, txID, updated.ID))
	return updated, nil
}

// ConfirmReceived marks a reported deposit as received. Admin only; the deal
// must be tx_submitted; confirming before any tx was reported is refused.
func (s *DealService) ConfirmReceived(ctx context.Context, dealID string, requesterID int64) (*models.Deal, error) {
	return s.adminTransition(ctx, dealID, requesterID,
		[]string{models.DealStatusTxSubmitted}, models.DealStatusFundsReceived,
		"Admin has marked funds as received for escrow %s.")
}

// Release marks the escrow as paid out to the seller. Terminal.
func (s *DealService) Release(ctx context.Context, dealID string, requesterID int64) (*models.Deal, error) {
	return s.adminTransition(ctx, dealID, requesterID,
		[]string{models.DealStatusFundsReceived}, models.DealStatusReleased,
		"Admin has RELEASED funds for escrow %s. Thank you for using the service.")
}

// Refund marks the escrow as returned to the buyer. Terminal.
func (s *DealService) Refund(ctx context.Context, dealID string, requesterID int64) (*models.Deal, error) {
	return s.adminTransition(ctx, dealID, requesterID,
		[]string{models.DealStatusFundsReceived}, models.DealStatusRefunded,
		"Escrow %s has been REFUNDED by admin.")
}

// Cancel abandons a deal from any non-terminal state, bound or not.
func (s *DealService) Cancel(ctx context.Context, dealID string, requesterID int64) (*models.Deal, error) {
	var from []string
	for status := range models.ValidDealTransitions {
		if !models.IsTerminalStatus(status) {
			from = append(from, status)
		}
	}
	return s.adminTransition(ctx, dealID, requesterID, from, models.DealStatusCancelled,
		"Escrow %s has been cancelled by admin.")
}

func (s *DealService) adminTransition(ctx context.Context, dealID string, requesterID int64, from []string, to, chatText string) (*models.Deal, error) {
	if !s.cfg.IsAdmin(requesterID) {
		return nil, fmt.Errorf("%w: admin only", models.ErrUnauthorized)
	}

	deal, err := s.store.UpdateStatus(ctx, dealID, from, to)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			current, gerr := s.store.GetByID(ctx, dealID)
			if gerr != nil {
				return nil, gerr
			}
			return nil, fmt.Errorf("%w: deal %s is %s", models.ErrInvalidState, current.ID, current.Status)
		}
		return nil, err
	}

	// The guarded update only tells us the new status; the old one is
	// whichever allowed state the row was in. Recorded as the from-set when
	// ambiguous.
	oldStatus := from[0]
	if len(from) > 1 {
		oldStatus = "non_terminal"
	}
	s.recordTransition(ctx, deal, oldStatus, &requesterID, "admin")

	if deal.BoundChatID != nil {
		s.notifyChat(ctx, *deal.BoundChatID, fmt.Sprintf(chatText, deal.ID))
	}
	return deal, nil
}

// Resolve is the single chat-vs-explicit-id resolution rule used by every
// operation that can run in either context.
func (s *DealService) Resolve(ctx context.Context, explicitID string, chatID int64) (*models.Deal, ResolvedFrom, error) {
	if explicitID != "" {
		deal, err := s.store.GetByID(ctx, explicitID)
		if err != nil {
			return nil, "", err
		}
		return deal, ResolvedFromID, nil
	}
	if chatID != 0 {
		deal, err := s.store.GetByBoundChat(ctx, chatID)
		if err != nil {
			return nil, "", err
		}
		return deal, ResolvedFromChat, nil
	}
	return nil, "", fmt.Errorf("%w: no deal reference", models.ErrNotFound)
}

// Get is the pure read used by /status.
func (s *DealService) Get(ctx context.Context, explicitID string, chatID int64) (*models.Deal, error) {
	deal, _, err := s.Resolve(ctx, explicitID, chatID)
	return deal, err
}

// Dispute alerts the admins. Notification-only: it never mutates the deal.
// Only an admin decides the outcome, through the commands above.
func (s *DealService) Dispute(ctx context.Context, explicitID string, chatID int64, requesterID int64, chatContext string) {
	dealRef := "—"
	if deal, _, err := s.Resolve(ctx, explicitID, chatID); err == nil {
		dealRef = deal.ID
	}

	var text string
	if chatID != 0 {
		text = fmt.Sprintf("⚠️ Dispute requested in group %s (id %d)\nEscrow: %s\nPlease join the group to arbitrate.", chatContext, chatID, dealRef)
	} else {
		text = fmt.Sprintf("⚠️ Dispute requested by user %d in private chat.\nEscrow: %s", requesterID, dealRef)
	}

	if dealRef != "—" {
		_ = s.audit.Log(ctx, models.AuditLog{
			ActorTelegramID: &requesterID,
			ActorType:       "user",
			Action:          "deal_dispute",
			DealID:          &dealRef,
		})
	}
	s.notifyAdmins(ctx, text)
}

func (s *DealService) List(ctx context.Context, f repositories.DealFilter) ([]models.Deal, error) {
	return s.store.List(ctx, f)
}

func (s *DealService) GetDealEvents(ctx context.Context, dealID string) ([]models.AuditLog, error) {
	return s.audit.GetByDeal(ctx, dealID, 100, 0)
}

// --- side effects ---

// recordTransition audit-logs and publishes a status change. Both are
// fire-and-forget: a failed audit or publish never rolls back the deal.
func (s *DealService) recordTransition(ctx context.Context, deal *models.Deal, oldStatus string, actorID *int64, actorType string) {
	_ = s.audit.Log(ctx, models.AuditLog{
		ActorTelegramID: actorID,
		ActorType:       actorType,
		Action:          fmt.Sprintf("deal_status_%s_to_%s", oldStatus, deal.Status),
		DealID:          &deal.ID,
		Meta:            map[string]any{"old_status": oldStatus, "new_status": deal.Status},
	})

	if err := s.publisher.Publish(ctx, events.ChannelDeal, events.Event{
		Type: events.EventDealStatusChanged,
		Payload: map[string]any{
			"deal_id":    deal.ID,
			"old_status": oldStatus,
			"new_status": deal.Status,
		},
	}); err != nil {
		s.log.Warn("failed to publish deal event", zap.String("deal_id", deal.ID), zap.Error(err))
	}
}

func (s *DealService) notifyChat(ctx context.Context, chatID int64, text string) {
	if err := s.publisher.Publish(ctx, events.ChannelNotify, events.ChatMessage(chatID, text)); err != nil {
		s.log.Warn("failed to publish chat notification", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (s *DealService) notifyAdmins(ctx context.Context, text string) {
	for _, adminID := range s.cfg.AdminTelegramIDs {
		if err := s.publisher.Publish(ctx, events.ChannelNotify, events.UserMessage(adminID, text)); err != nil {
			s.log.Warn("failed to publish admin notification", zap.Int64("admin_id", adminID), zap.Error(err))
		}
	}
}
