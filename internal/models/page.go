package models

// Pagination describes one page of a listing.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages,omitempty"`
}

// HistoryPage is one page of a conversation's messages, oldest first.
type HistoryPage struct {
	Messages   []MessageDetails `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

// ConversationPage is one page of a user's conversation list.
type ConversationPage struct {
	Conversations []ConversationSummary `json:"conversations"`
	Pagination    Pagination            `json:"pagination"`
}
