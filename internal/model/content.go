package model

import "time"

// Author はブログ記事の著者情報を表す。
type Author struct {
	Name   string
	Avatar string
}

// Post はブログ記事を表す。
type Post struct {
	ID            string
	Title         string
	Slug          string
	Excerpt       string
	Content       string
	FeaturedImage string
	Published     bool
	Tags          []string
	Author        Author
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PostFilter は記事一覧の絞り込み条件を表す。
type PostFilter struct {
	PublishedOnly bool
	Tag           string
	Limit         int
}

// Page は固定ページを表す。
type Page struct {
	ID              string
	Title           string
	Slug            string
	Content         string
	FeaturedImage   string
	MetaTitle       string
	MetaDescription string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// MessageStatus はお問い合わせメッセージの対応状況を表す。
type MessageStatus string

const (
	MessageStatusUnread   MessageStatus = "unread"
	MessageStatusRead     MessageStatus = "read"
	MessageStatusReplied  MessageStatus = "replied"
	MessageStatusArchived MessageStatus = "archived"
)

// Valid は定義済みのステータスかどうかを判定する。
func (s MessageStatus) Valid() bool {
	switch s {
	case MessageStatusUnread, MessageStatusRead, MessageStatusReplied, MessageStatusArchived:
		return true
	default:
		return false
	}
}

// MessageType はお問い合わせの種別を表す。
type MessageType string

const (
	MessageTypeContact        MessageType = "contact"
	MessageTypeServiceInquiry MessageType = "service-inquiry"
)

// ContactMessage はお問い合わせフォームから送信されたメッセージを表す。
type ContactMessage struct {
	ID        string
	Name      string
	Email     string
	Subject   string
	Message   string
	Type      MessageType
	Status    MessageStatus
	CreatedAt time.Time
}

// MessageFilter はメッセージ一覧の絞り込み条件を表す。
// Statusが空の場合は全件、Queryは名前・メール・件名・本文の部分一致。
type MessageFilter struct {
	Status MessageStatus
	Query  string
	Limit  int
}
