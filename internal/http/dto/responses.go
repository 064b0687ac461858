package dto

type AuthResponse struct {
	Token string `json:"token"`
	User  any    `json:"user"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

// BotUpdateResponse carries the rendered reply the connector should post
// back into the originating chat.
type BotUpdateResponse struct {
	Reply string `json:"reply"`
}
