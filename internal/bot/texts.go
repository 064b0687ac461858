package bot

// Static reply texts. Everything user-facing the dispatcher says that is not
// derived from a deal lives here.

const welcomeText = `Hello! I'm the escrow bot.

I track manual escrow deals between a buyer and a seller, arbitrated by a human admin. Funds move outside of this bot; the admin confirms everything by hand.

Type /menu to see available commands.`

const menuText = `Available commands:
/escrow — create a new escrow deal
/initescrow <escrow_id> — link a deal to this group (run inside the group)
/dd <terms> — record deal details (amount, rate, conditions)
/buyer <address> — set buyer payout address
/seller <address> — set seller payout address
/deposit <TXID> — report the deposit transaction (in private: /deposit <escrow_id> <TXID>)
/status [escrow_id] — show deal state
/address — show the deposit address
/dispute — call the admin to arbitrate

Admin:
/mark_received <escrow_id>
/release <escrow_id>
/refund <escrow_id>
/cancel <escrow_id>`

const groupWelcomeText = `Welcome to the escrow group!

How this works:
1. Record the terms with /dd.
2. Buyer and seller set their addresses with /buyer and /seller.
3. Buyer sends funds to the deposit address (/address) and reports the TXID with /deposit.
4. Admin verifies receipt, then releases or refunds by hand.

If anything goes wrong, /dispute brings the admin in.`

const ddHelpText = `Send the deal terms in one message, for example:

/dd 500 USDT @ 0.98, payment within 24h, goods shipped after release

The recorded terms show up in /status and are what the admin arbitrates on.`

const createdTextFmt = `Escrow created.

ID: %s

Next steps:
1. Create a new Telegram GROUP with the buyer and the seller.
2. Add me to that group.
3. Inside the group, run: /initescrow %s`
