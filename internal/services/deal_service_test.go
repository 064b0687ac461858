package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/escrow-desk/backend/internal/config"
	"github.com/escrow-desk/backend/internal/events"
	"github.com/escrow-desk/backend/internal/models"
	"github.com/escrow-desk/backend/internal/repositories"
	"go.uber.org/zap"
)

const adminID = int64(999)

// fakeStore mirrors the repository's conditional-update semantics in memory:
// every mutation checks its guard and writes under one lock, and a guard
// miss comes back as models.ErrNotFound, exactly like a zero-row UPDATE.
type fakeStore struct {
	mu    sync.Mutex
	deals map[string]*models.Deal
}

func newFakeStore() *fakeStore {
	return &fakeStore{deals: make(map[string]*models.Deal)}
}

func copyDeal(d *models.Deal) *models.Deal {
	c := *d
	return &c
}

func (f *fakeStore) Create(ctx context.Context, d *models.Deal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.deals[d.ID]; ok {
		return models.ErrStorage
	}
	f.deals[d.ID] = copyDeal(d)
	return nil
}

func (f *fakeStore) GetByID(ctx context.Context, id string) (*models.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deals[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyDeal(d), nil
}

func (f *fakeStore) GetByBoundChat(ctx context.Context, chatID int64) (*models.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.deals {
		if d.IsBoundTo(chatID) && !d.IsTerminal() {
			return copyDeal(d), nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeStore) BindChat(ctx context.Context, id string, chatID int64, inviteLink string) (*models.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.deals {
		if d.ID != id && d.IsBoundTo(chatID) && !d.IsTerminal() {
			return nil, models.ErrChatHasActiveDeal
		}
	}
	d, ok := f.deals[id]
	if !ok || d.BoundChatID != nil || !contains(models.BindableStatuses, d.Status) {
		return nil, models.ErrNotFound
	}
	d.BoundChatID = &chatID
	if inviteLink != "" {
		d.GroupInviteLink = &inviteLink
	}
	d.Status = models.DealStatusWaitingDeposit
	return copyDeal(d), nil
}

func (f *fakeStore) SetPartyAddress(ctx context.Context, id, role, address string) (*models.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deals[id]
	if !ok || d.IsTerminal() {
		return nil, models.ErrNotFound
	}
	if role == models.RoleBuyer {
		d.BuyerAddress = &address
	} else {
		d.SellerAddress = &address
	}
	return copyDeal(d), nil
}

func (f *fakeStore) SetDetails(ctx context.Context, id, details string) (*models.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deals[id]
	if !ok || d.IsTerminal() {
		return nil, models.ErrNotFound
	}
	d.Details = &details
	return copyDeal(d), nil
}

func (f *fakeStore) SetReportedTx(ctx context.Context, id, txID string) (*models.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deals[id]
	if !ok || (d.Status != models.DealStatusWaitingDeposit && d.Status != models.DealStatusTxSubmitted) {
		return nil, models.ErrNotFound
	}
	d.ReportedTxID = &txID
	d.Status = models.DealStatusTxSubmitted
	return copyDeal(d), nil
}

func (f *fakeStore) UpdateStatus(ctx context.Context, id string, from []string, to string) (*models.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deals[id]
	if !ok || !contains(from, d.Status) {
		return nil, models.ErrNotFound
	}
	d.Status = to
	return copyDeal(d), nil
}

func (f *fakeStore) List(ctx context.Context, filter repositories.DealFilter) ([]models.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Deal
	for _, d := range f.deals {
		if filter.Status != nil && d.Status != *filter.Status {
			continue
		}
		if filter.CreatorID != nil && d.CreatorID != *filter.CreatorID {
			continue
		}
		out = append(out, *d)
	}
	return out, nil
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (f *fakeAudit) Log(ctx context.Context, entry models.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAudit) GetByDeal(ctx context.Context, dealID string, limit, offset int) ([]models.AuditLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.AuditLog
	for _, e := range f.entries {
		if e.DealID != nil && *e.DealID == dealID {
			out = append(out, e)
		}
	}
	return out, nil
}

type published struct {
	channel string
	event   events.Event
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, event events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, published{channel: channel, event: event})
	return nil
}

func (f *fakePublisher) count(channel, eventType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.events {
		if p.channel == channel && p.event.Type == eventType {
			n++
		}
	}
	return n
}

func newTestService() (*DealService, *fakeStore, *fakeAudit, *fakePublisher) {
	store := newFakeStore()
	audit := &fakeAudit{}
	publisher := &fakePublisher{}
	cfg := &config.Config{AdminTelegramIDs: []int64{adminID}}
	svc := NewDealService(store, audit, publisher, cfg, zap.NewNop())
	return svc, store, audit, publisher
}

const (
	buyerAddr  = "0x52908400098527886E0F7030069857D2E4169EE7"
	sellerAddr = "TLyqzVGLV1srkB7dToTAEqgDSfPtXRJZYH"
)

func TestNewDealCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		code := NewDealCode()
		if len(code) != 12 || code[:4] != "esc-" {
			t.Fatalf("unexpected deal code %q", code)
		}
		if seen[code] {
			t.Fatalf("duplicate code %q after %d draws", code, i)
		}
		seen[code] = true
	}
}

func TestDealLifecycleHappyPath(t *testing.T) {
	svc, _, _, publisher := newTestService()
	ctx := context.Background()

	deal, err := svc.Create(ctx, 100, "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if deal.Status != models.DealStatusCreated {
		t.Fatalf("expected created, got %s", deal.Status)
	}

	chatID := int64(-100500)
	deal, err = svc.Bind(ctx, deal.ID, chatID, 100, "https://t.me/+invite")
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if deal.Status != models.DealStatusWaitingDeposit {
		t.Fatalf("expected waiting_deposit, got %s", deal.Status)
	}
	if !deal.IsBoundTo(chatID) {
		t.Fatal("deal should be bound to the chat")
	}

	if _, err := svc.SetDetails(ctx, chatID, 100, "500 USDT, rate 1.00"); err != nil {
		t.Fatalf("set details: %v", err)
	}
	if _, err := svc.SetParty(ctx, chatID, 100, models.RoleBuyer, buyerAddr); err != nil {
		t.Fatalf("set buyer: %v", err)
	}
	if _, err := svc.SetParty(ctx, chatID, 200, models.RoleSeller, sellerAddr); err != nil {
		t.Fatalf("set seller: %v", err)
	}

	deal, err = svc.ReportTx(ctx, "", chatID, 100, "0xabc123def456")
	if err != nil {
		t.Fatalf("report tx: %v", err)
	}
	if deal.Status != models.DealStatusTxSubmitted {
		t.Fatalf("expected tx_submitted, got %s", deal.Status)
	}

	deal, err = svc.ConfirmReceived(ctx, deal.ID, adminID)
	if err != nil {
		t.Fatalf("confirm received: %v", err)
	}
	if deal.Status != models.DealStatusFundsReceived {
		t.Fatalf("expected funds_received, got %s", deal.Status)
	}

	deal, err = svc.Release(ctx, deal.ID, adminID)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if deal.Status != models.DealStatusReleased {
		t.Fatalf("expected released, got %s", deal.Status)
	}

	// Four transitions: bind, report, confirm, release.
	if got := publisher.count(events.ChannelDeal, events.EventDealStatusChanged); got != 4 {
		t.Errorf("expected 4 status events, got %d", got)
	}
	// Admin alert on deposit report.
	if got := publisher.count(events.ChannelNotify, events.EventUserMessage); got != 1 {
		t.Errorf("expected 1 admin alert, got %d", got)
	}
}

func TestBindRejectsSecondChat(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	deal, _ := svc.Create(ctx, 100, "alice")
	if _, err := svc.Bind(ctx, deal.ID, -1, 100, ""); err != nil {
		t.Fatalf("first bind: %v", err)
	}

	_, err := svc.Bind(ctx, deal.ID, -2, 100, "")
	if !errors.Is(err, models.ErrAlreadyBound) {
		t.Fatalf("expected ErrAlreadyBound, got %v", err)
	}
}

func TestBindSameChatTwice(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	deal, _ := svc.Create(ctx, 100, "alice")
	if _, err := svc.Bind(ctx, deal.ID, -1, 100, ""); err != nil {
		t.Fatalf("first bind: %v", err)
	}

	// Same deal, same chat: already initialized, not "bound elsewhere".
	_, err := svc.Bind(ctx, deal.ID, -1, 100, "")
	if !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestBindRejectsChatWithActiveDeal(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	first, _ := svc.Create(ctx, 100, "alice")
	if _, err := svc.Bind(ctx, first.ID, -1, 100, ""); err != nil {
		t.Fatalf("bind first: %v", err)
	}

	second, _ := svc.Create(ctx, 200, "bob")
	_, err := svc.Bind(ctx, second.ID, -1, 200, "")
	if !errors.Is(err, models.ErrChatHasActiveDeal) {
		t.Fatalf("expected ErrChatHasActiveDeal, got %v", err)
	}
}

func TestBindAllowedAfterPreviousDealClosed(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	first, _ := svc.Create(ctx, 100, "alice")
	if _, err := svc.Bind(ctx, first.ID, -1, 100, ""); err != nil {
		t.Fatalf("bind first: %v", err)
	}
	if _, err := svc.Cancel(ctx, first.ID, adminID); err != nil {
		t.Fatalf("cancel first: %v", err)
	}

	second, _ := svc.Create(ctx, 200, "bob")
	if _, err := svc.Bind(ctx, second.ID, -1, 200, ""); err != nil {
		t.Fatalf("bind after close: %v", err)
	}
}

func TestBindRaceSingleWinner(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	deal, _ := svc.Create(ctx, 100, "alice")

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(chat int64) {
			defer wg.Done()
			_, err := svc.Bind(ctx, deal.ID, chat, 100, "")
			errs <- err
		}(int64(-1000 - i))
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, models.ErrAlreadyBound) && !errors.Is(err, models.ErrInvalidState) {
			t.Errorf("unexpected race loser error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly 1 winning bind, got %d", wins)
	}
}

func TestSetPartyValidation(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	deal, _ := svc.Create(ctx, 100, "alice")
	if _, err := svc.Bind(ctx, deal.ID, -1, 100, ""); err != nil {
		t.Fatalf("bind: %v", err)
	}

	if _, err := svc.SetParty(ctx, -1, 100, "arbiter", buyerAddr); !errors.Is(err, models.ErrValidation) {
		t.Errorf("bad role: expected ErrValidation, got %v", err)
	}
	if _, err := svc.SetParty(ctx, -1, 100, models.RoleBuyer, "short"); !errors.Is(err, models.ErrValidation) {
		t.Errorf("short address: expected ErrValidation, got %v", err)
	}
	if _, err := svc.SetParty(ctx, -1, 100, models.RoleBuyer, "0x52908400 098527886E0F"); !errors.Is(err, models.ErrValidation) {
		t.Errorf("whitespace address: expected ErrValidation, got %v", err)
	}
	if _, err := svc.SetParty(ctx, -99, 100, models.RoleBuyer, buyerAddr); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("unbound chat: expected ErrNotFound, got %v", err)
	}

	updated, err := svc.SetParty(ctx, -1, 100, models.RoleBuyer, buyerAddr)
	if err != nil {
		t.Fatalf("set buyer: %v", err)
	}
	if updated.BuyerAddress == nil || *updated.BuyerAddress != buyerAddr {
		t.Error("buyer address not stored")
	}
}

func TestReportTxBeforeBindRefused(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	deal, _ := svc.Create(ctx, 100, "alice")
	_, err := svc.ReportTx(ctx, deal.ID, 0, 100, "0xdeadbeef1234")
	if !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestReportTxRereportOverwrites(t *testing.T) {
	svc, store, audit, _ := newTestService()
	ctx := context.Background()

	deal, _ := svc.Create(ctx, 100, "alice")
	if _, err := svc.Bind(ctx, deal.ID, -1, 100, ""); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if _, err := svc.ReportTx(ctx, "", -1, 100, "0xfirst111111"); err != nil {
		t.Fatalf("first report: %v", err)
	}

	updated, err := svc.ReportTx(ctx, "", -1, 100, "0xsecond22222")
	if err != nil {
		t.Fatalf("re-report: %v", err)
	}
	if updated.Status != models.DealStatusTxSubmitted {
		t.Fatalf("expected tx_submitted, got %s", updated.Status)
	}
	if got, _ := store.GetByID(ctx, deal.ID); *got.ReportedTxID != "0xsecond22222" {
		t.Errorf("txid not overwritten, got %s", *got.ReportedTxID)
	}

	// The overwrite is an audit entry, not a transition.
	entries, _ := audit.GetByDeal(ctx, deal.ID, 100, 0)
	found := false
	for _, e := range entries {
		if e.Action == "deal_tx_rereported" {
			found = true
		}
	}
	if !found {
		t.Error("expected a deal_tx_rereported audit entry")
	}
}

func TestReportTxAfterFundsReceivedRefused(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	deal, _ := svc.Create(ctx, 100, "alice")
	if _, err := svc.Bind(ctx, deal.ID, -1, 100, ""); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if _, err := svc.ReportTx(ctx, "", -1, 100, "0xdeadbeef1234"); err != nil {
		t.Fatalf("report: %v", err)
	}
	if _, err := svc.ConfirmReceived(ctx, deal.ID, adminID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	_, err := svc.ReportTx(ctx, "", -1, 100, "0xother9876543")
	if !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestAdminOperationsRequireAdmin(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	deal, _ := svc.Create(ctx, 100, "alice")

	ops := map[string]func() error{
		"confirm": func() error { _, err := svc.ConfirmReceived(ctx, deal.ID, 100); return err },
		"release": func() error { _, err := svc.Release(ctx, deal.ID, 100); return err },
		"refund":  func() error { _, err := svc.Refund(ctx, deal.ID, 100); return err },
		"cancel":  func() error { _, err := svc.Cancel(ctx, deal.ID, 100); return err },
	}
	for name, op := range ops {
		if err := op(); !errors.Is(err, models.ErrUnauthorized) {
			t.Errorf("%s by non-admin: expected ErrUnauthorized, got %v", name, err)
		}
	}
}

func TestReleaseRequiresFundsReceived(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	deal, _ := svc.Create(ctx, 100, "alice")
	if _, err := svc.Bind(ctx, deal.ID, -1, 100, ""); err != nil {
		t.Fatalf("bind: %v", err)
	}

	if _, err := svc.Release(ctx, deal.ID, adminID); !errors.Is(err, models.ErrInvalidState) {
		t.Errorf("release from waiting_deposit: expected ErrInvalidState, got %v", err)
	}
	if _, err := svc.Refund(ctx, deal.ID, adminID); !errors.Is(err, models.ErrInvalidState) {
		t.Errorf("refund from waiting_deposit: expected ErrInvalidState, got %v", err)
	}
}

func TestTerminalDealIsImmutable(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	deal, _ := svc.Create(ctx, 100, "alice")
	if _, err := svc.Bind(ctx, deal.ID, -1, 100, ""); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if _, err := svc.ReportTx(ctx, "", -1, 100, "0xdeadbeef1234"); err != nil {
		t.Fatalf("report: %v", err)
	}
	if _, err := svc.ConfirmReceived(ctx, deal.ID, adminID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := svc.Release(ctx, deal.ID, adminID); err != nil {
		t.Fatalf("release: %v", err)
	}

	if _, err := svc.Refund(ctx, deal.ID, adminID); !errors.Is(err, models.ErrInvalidState) {
		t.Errorf("refund after release: expected ErrInvalidState, got %v", err)
	}
	if _, err := svc.Cancel(ctx, deal.ID, adminID); !errors.Is(err, models.ErrInvalidState) {
		t.Errorf("cancel after release: expected ErrInvalidState, got %v", err)
	}
	if _, err := svc.SetParty(ctx, -1, 100, models.RoleBuyer, buyerAddr); !errors.Is(err, models.ErrNotFound) {
		// Terminal deals no longer resolve through the chat.
		t.Errorf("set party after release: expected ErrNotFound, got %v", err)
	}
}

func TestCancelFromEveryNonTerminalStatus(t *testing.T) {
	ctx := context.Background()

	advance := map[string]func(svc *DealService, id string){
		models.DealStatusCreated: func(svc *DealService, id string) {},
		models.DealStatusWaitingDeposit: func(svc *DealService, id string) {
			svc.Bind(ctx, id, -1, 100, "")
		},
		models.DealStatusTxSubmitted: func(svc *DealService, id string) {
			svc.Bind(ctx, id, -1, 100, "")
			svc.ReportTx(ctx, "", -1, 100, "0xdeadbeef1234")
		},
		models.DealStatusFundsReceived: func(svc *DealService, id string) {
			svc.Bind(ctx, id, -1, 100, "")
			svc.ReportTx(ctx, "", -1, 100, "0xdeadbeef1234")
			svc.ConfirmReceived(ctx, id, adminID)
		},
	}

	for status, setup := range advance {
		t.Run(status, func(t *testing.T) {
			svc, _, _, _ := newTestService()
			deal, _ := svc.Create(ctx, 100, "alice")
			setup(svc, deal.ID)

			cancelled, err := svc.Cancel(ctx, deal.ID, adminID)
			if err != nil {
				t.Fatalf("cancel from %s: %v", status, err)
			}
			if cancelled.Status != models.DealStatusCancelled {
				t.Fatalf("expected cancelled, got %s", cancelled.Status)
			}
		})
	}
}

func TestCancelUnboundDealSkipsChatNotification(t *testing.T) {
	svc, _, _, publisher := newTestService()
	ctx := context.Background()

	deal, _ := svc.Create(ctx, 100, "alice")
	if _, err := svc.Cancel(ctx, deal.ID, adminID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if got := publisher.count(events.ChannelNotify, events.EventChatMessage); got != 0 {
		t.Errorf("expected no chat notifications for unbound deal, got %d", got)
	}
	if got := publisher.count(events.ChannelDeal, events.EventDealStatusChanged); got != 1 {
		t.Errorf("expected 1 status event, got %d", got)
	}
}

func TestResolvePrefersExplicitID(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	byChat, _ := svc.Create(ctx, 100, "alice")
	if _, err := svc.Bind(ctx, byChat.ID, -1, 100, ""); err != nil {
		t.Fatalf("bind: %v", err)
	}
	other, _ := svc.Create(ctx, 200, "bob")

	deal, from, err := svc.Resolve(ctx, other.ID, -1)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if from != ResolvedFromID || deal.ID != other.ID {
		t.Errorf("expected explicit id to win, got %s via %s", deal.ID, from)
	}

	deal, from, err = svc.Resolve(ctx, "", -1)
	if err != nil {
		t.Fatalf("resolve by chat: %v", err)
	}
	if from != ResolvedFromChat || deal.ID != byChat.ID {
		t.Errorf("expected chat resolution, got %s via %s", deal.ID, from)
	}

	if _, _, err := svc.Resolve(ctx, "", 0); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("no reference: expected ErrNotFound, got %v", err)
	}
}

func TestDisputeNeverMutates(t *testing.T) {
	svc, store, _, publisher := newTestService()
	ctx := context.Background()

	deal, _ := svc.Create(ctx, 100, "alice")
	if _, err := svc.Bind(ctx, deal.ID, -1, 100, ""); err != nil {
		t.Fatalf("bind: %v", err)
	}

	svc.Dispute(ctx, "", -1, 100, "Escrow Group")

	got, _ := store.GetByID(ctx, deal.ID)
	if got.Status != models.DealStatusWaitingDeposit {
		t.Errorf("dispute changed status to %s", got.Status)
	}
	if publisher.count(events.ChannelNotify, events.EventUserMessage) != 1 {
		t.Error("expected one admin alert")
	}

	// Dispute with no resolvable deal still alerts and never errors.
	svc.Dispute(ctx, "", -999, 300, "Other Group")
	if publisher.count(events.ChannelNotify, events.EventUserMessage) != 2 {
		t.Error("expected a second admin alert")
	}
}
