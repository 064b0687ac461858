package dto

type AuthTelegramRequest struct {
	InitData string `json:"init_data"`
}

// BotUpdateRequest is one chat command forwarded by the bot connector.
type BotUpdateRequest struct {
	Verb         string   `json:"verb"`
	Args         []string `json:"args,omitempty"`
	SenderID     int64    `json:"sender_id"`
	SenderName   string   `json:"sender_name,omitempty"`
	ChatID       int64    `json:"chat_id"`
	ChatType     string   `json:"chat_type"` // private / group / supergroup
	ChatTitle    string   `json:"chat_title,omitempty"`
	ChatUsername string   `json:"chat_username,omitempty"`
	InviteLink   string   `json:"invite_link,omitempty"`
}
