package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/escrow-desk/backend/internal/addrs"
	"github.com/escrow-desk/backend/internal/chatinfo"
	"github.com/escrow-desk/backend/internal/config"
	"github.com/escrow-desk/backend/internal/models"
	"github.com/escrow-desk/backend/internal/services"
	"go.uber.org/zap"
)

// Command is one inbound chat command as delivered by the bot connector.
type Command struct {
	Verb         string   `json:"verb"`
	Args         []string `json:"args"`
	SenderID     int64    `json:"sender_id"`
	SenderName   string   `json:"sender_name"`
	ChatID       int64    `json:"chat_id"`
	ChatType     string   `json:"chat_type"` // private / group / supergroup
	ChatTitle    string   `json:"chat_title,omitempty"`
	ChatUsername string   `json:"chat_username,omitempty"`
	InviteLink   string   `json:"invite_link,omitempty"`
}

func (c Command) inGroup() bool {
	return c.ChatType == "group" || c.ChatType == "supergroup"
}

// groupChatID is the chat id usable for deal resolution: only group chats
// can hold bindings.
func (c Command) groupChatID() int64 {
	if c.inGroup() {
		return c.ChatID
	}
	return 0
}

// aliases maps the generic verb names onto the bot's native commands.
var aliases = map[string]string{
	"create-deal":   "escrow",
	"bind":          "initescrow",
	"set-buyer":     "buyer",
	"set-seller":    "seller",
	"report-tx":     "deposit",
	"admin-confirm": "mark_received",
	"admin-release": "release",
	"admin-refund":  "refund",
	"admin-cancel":  "cancel",
	"help":          "menu",
}

// Dispatcher maps inbound commands onto lifecycle engine operations and
// renders the outcome as reply text. Argument and chat-kind checks happen
// here, before the engine is ever invoked.
type Dispatcher struct {
	deals *services.DealService
	chats *chatinfo.Parser
	cfg   *config.Config
	log   *zap.Logger
}

func NewDispatcher(deals *services.DealService, chats *chatinfo.Parser, cfg *config.Config, log *zap.Logger) *Dispatcher {
	return &Dispatcher{deals: deals, chats: chats, cfg: cfg, log: log}
}

// Dispatch handles one command and returns the reply text for the chat it
// came from.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) string {
	verb := strings.ToLower(strings.TrimPrefix(cmd.Verb, "/"))
	if native, ok := aliases[verb]; ok {
		verb = native
	}

	switch verb {
	case "start":
		return welcomeText
	case "menu":
		return menuText
	case "escrow":
		return d.createDeal(ctx, cmd)
	case "initescrow":
		return d.bind(ctx, cmd)
	case "dd":
		return d.setDetails(ctx, cmd)
	case "buyer":
		return d.setParty(ctx, cmd, models.RoleBuyer)
	case "seller":
		return d.setParty(ctx, cmd, models.RoleSeller)
	case "deposit":
		return d.reportTx(ctx, cmd)
	case "status":
		return d.status(ctx, cmd)
	case "dispute":
		return d.dispute(ctx, cmd)
	case "address":
		return d.depositAddress()
	case "mark_received":
		return d.adminAction(ctx, cmd, d.deals.ConfirmReceived, "Escrow %s marked as funds received.", "/mark_received <escrow_id>")
	case "release":
		return d.adminAction(ctx, cmd, d.deals.Release, "Escrow %s marked as RELEASED.", "/release <escrow_id>")
	case "refund":
		return d.adminAction(ctx, cmd, d.deals.Refund, "Escrow %s marked as REFUNDED.", "/refund <escrow_id>")
	case "cancel":
		return d.adminAction(ctx, cmd, d.deals.Cancel, "Escrow %s cancelled.", "/cancel <escrow_id>")
	default:
		return "Unknown command. Type /menu to see available commands."
	}
}

func (d *Dispatcher) createDeal(ctx context.Context, cmd Command) string {
	deal, err := d.deals.Create(ctx, cmd.SenderID, cmd.SenderName)
	if err != nil {
		return d.renderError(err)
	}
	return fmt.Sprintf(createdTextFmt, deal.ID, deal.ID)
}

func (d *Dispatcher) bind(ctx context.Context, cmd Command) string {
	if !cmd.inGroup() {
		return "Please use /initescrow <escrow_id> inside the newly created escrow GROUP."
	}
	if len(cmd.Args) < 1 {
		return "Usage: /initescrow <escrow_id>"
	}

	_, err := d.deals.Bind(ctx, cmd.Args[0], cmd.ChatID, cmd.SenderID, cmd.InviteLink)
	if err != nil {
		return d.renderError(err)
	}
	return groupWelcomeText
}

func (d *Dispatcher) setDetails(ctx context.Context, cmd Command) string {
	if !cmd.inGroup() {
		return "Please run /dd inside the escrow group."
	}
	if len(cmd.Args) == 0 {
		return ddHelpText
	}

	_, err := d.deals.SetDetails(ctx, cmd.ChatID, cmd.SenderID, strings.Join(cmd.Args, " "))
	if err != nil {
		return d.renderError(err)
	}
	return "Deal details saved. They will show up in /status."
}

func (d *Dispatcher) setParty(ctx context.Context, cmd Command, role string) string {
	if !cmd.inGroup() {
		return fmt.Sprintf("Please set the %s address inside the escrow group using /%s <address>", role, role)
	}
	if len(cmd.Args) < 1 {
		return fmt.Sprintf("Usage: /%s <CRYPTO ADDRESS>", role)
	}

	addr := cmd.Args[0]
	deal, err := d.deals.SetParty(ctx, cmd.ChatID, cmd.SenderID, role, addr)
	if err != nil {
		return d.renderError(err)
	}

	label := "Buyer"
	if role == models.RoleSeller {
		label = "Seller"
	}
	reply := fmt.Sprintf("%s address saved: %s\nMake sure buyer and seller use the same chain.", label, addr)
	if warn := chainMismatchWarning(deal); warn != "" {
		reply += "\n" + warn
	}
	return reply
}

// chainMismatchWarning flags deals whose buyer and seller addresses look
// like they live on different networks.
func chainMismatchWarning(deal *models.Deal) string {
	if deal.BuyerAddress == nil || deal.SellerAddress == nil {
		return ""
	}
	buyerNet := addrs.Sniff(*deal.BuyerAddress)
	sellerNet := addrs.Sniff(*deal.SellerAddress)
	if buyerNet == addrs.NetworkUnknown || sellerNet == addrs.NetworkUnknown || buyerNet == sellerNet {
		return ""
	}
	return fmt.Sprintf("⚠️ Buyer address looks like %s but seller address looks like %s — double-check before sending anything.", buyerNet, sellerNet)
}

func (d *Dispatcher) reportTx(ctx context.Context, cmd Command) string {
	var explicitID, txID string
	switch {
	case cmd.inGroup():
		if len(cmd.Args) < 1 {
			return "Usage: /deposit <TXID>"
		}
		txID = cmd.Args[0]
	default:
		// private chat: escrow id first, txid second
		if len(cmd.Args) < 2 {
			return "Usage in private chat: /deposit <escrow_id> <TXID>"
		}
		explicitID = cmd.Args[0]
		txID = cmd.Args[1]
	}

	_, err := d.deals.ReportTx(ctx, explicitID, cmd.groupChatID(), cmd.SenderID, txID)
	if err != nil {
		return d.renderError(err)
	}
	return "TXID saved. Admin will manually verify and mark as received when confirmed."
}

func (d *Dispatcher) status(ctx context.Context, cmd Command) string {
	var explicitID string
	if !cmd.inGroup() {
		if len(cmd.Args) < 1 {
			return "Usage: /status <escrow_id>"
		}
		explicitID = cmd.Args[0]
	} else if len(cmd.Args) >= 1 {
		explicitID = cmd.Args[0]
	}

	deal, err := d.deals.Get(ctx, explicitID, cmd.groupChatID())
	if err != nil {
		return d.renderError(err)
	}
	return renderDeal(deal)
}

func (d *Dispatcher) dispute(ctx context.Context, cmd Command) string {
	var explicitID string
	if len(cmd.Args) >= 1 {
		explicitID = cmd.Args[0]
	}

	chatContext := cmd.ChatTitle
	if chatContext == "" {
		chatContext = "Escrow Group"
	}
	// Public groups get their preview scraped for extra context in the
	// admin alert. Strictly best-effort.
	if cmd.ChatUsername != "" && d.chats != nil {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if preview, err := d.chats.FetchPreview(pctx, cmd.ChatUsername); err == nil && preview.Members != nil {
			chatContext = fmt.Sprintf("%s (%d members)", preview.Title, *preview.Members)
		}
		cancel()
	}

	d.deals.Dispute(ctx, explicitID, cmd.groupChatID(), cmd.SenderID, chatContext)
	if cmd.inGroup() {
		return "Dispute noted. An arbitrator will be notified."
	}
	return "Dispute noted. Admin will be notified."
}

func (d *Dispatcher) depositAddress() string {
	if d.cfg.DepositAddress == "" {
		return "No deposit address is configured yet. Ask the admin."
	}
	return fmt.Sprintf("Our fixed USDT %s deposit address (use the %s network):\n\n%s\n\nMake sure the buyer sends EXACTLY USDT %s to this address. After sending, report the TXID with /deposit <TXID>.",
		d.cfg.DepositNetwork, d.cfg.DepositNetwork, d.cfg.DepositAddress, d.cfg.DepositNetwork)
}

func (d *Dispatcher) adminAction(ctx context.Context, cmd Command, op func(context.Context, string, int64) (*models.Deal, error), okFmt, usage string) string {
	if len(cmd.Args) < 1 {
		return "Usage: " + usage
	}

	deal, err := op(ctx, cmd.Args[0], cmd.SenderID)
	if err != nil {
		return d.renderError(err)
	}
	return fmt.Sprintf(okFmt, deal.ID)
}

func renderDeal(deal *models.Deal) string {
	group := "—"
	if deal.BoundChatID != nil {
		group = fmt.Sprintf("%d", *deal.BoundChatID)
	}
	return fmt.Sprintf(
		"Escrow %s\nCreator: %s (%d)\nDetails: %s\nBuyer: %s\nSeller: %s\nTXID: %s\nStatus: %s\nGroup: %s\nCreated at (UTC): %s",
		deal.ID,
		deal.CreatorName, deal.CreatorID,
		orDash(deal.Details),
		orDash(deal.BuyerAddress),
		orDash(deal.SellerAddress),
		orDash(deal.ReportedTxID),
		deal.Status,
		group,
		deal.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
	)
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "—"
	}
	return *s
}

// renderError turns an engine error into user-facing text. Nothing internal
// leaks beyond the deal id.
func (d *Dispatcher) renderError(err error) string {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return "Escrow not found. Check the ID, or run /initescrow <escrow_id> in the group first."
	case errors.Is(err, models.ErrUnauthorized):
		return "Only admin can use this command."
	case errors.Is(err, models.ErrAlreadyBound):
		return "This escrow is already linked to another group."
	case errors.Is(err, models.ErrChatHasActiveDeal):
		return "This group already has an active escrow. Finish or /cancel it before starting a new one."
	case errors.Is(err, models.ErrInvalidState):
		return fmt.Sprintf("That action is not possible right now: %s.", trimSentinel(err, models.ErrInvalidState))
	case errors.Is(err, models.ErrValidation):
		return fmt.Sprintf("That doesn't look right: %s.", trimSentinel(err, models.ErrValidation))
	default:
		d.log.Error("command failed", zap.Error(err))
		return "Something went wrong on our side. Please try again in a moment."
	}
}

// trimSentinel strips the sentinel prefix from a wrapped error, leaving the
// human-readable detail.
func trimSentinel(err error, sentinel error) string {
	msg := err.Error()
	msg = strings.TrimPrefix(msg, sentinel.Error())
	msg = strings.TrimPrefix(msg, ": ")
	if msg == "" {
		return sentinel.Error()
	}
	return msg
}
