package models

import "time"

type ForumTopic struct {
	ID          string     `gorm:"column:id;type:uuid;primary_key" json:"id"`
	HandbookID  string     `gorm:"column:handbook_id;type:uuid;not null;index" json:"handbook_id"`
	Title       string     `gorm:"column:title;type:varchar(255);not null" json:"title"`
	AuthorID    *string    `gorm:"column:author_id;type:uuid;index" json:"author_id"`
	AuthorName  string     `gorm:"column:author_name;type:varchar(255)" json:"author_name"`
	AuthorEmail *string    `gorm:"column:author_email;type:varchar(255)" json:"-"`
	ReplyCount  int        `gorm:"column:reply_count;not null;default:0" json:"reply_count"`
	LastReplyAt *time.Time `gorm:"column:last_reply_at" json:"last_reply_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (ForumTopic) TableName() string { return "forum_topics" }

type ForumPost struct {
	ID          string    `gorm:"column:id;type:uuid;primary_key" json:"id"`
	TopicID     string    `gorm:"column:topic_id;type:uuid;not null;index" json:"topic_id"`
	HandbookID  string    `gorm:"column:handbook_id;type:uuid;not null;index" json:"handbook_id"`
	AuthorID    *string   `gorm:"column:author_id;type:uuid;index" json:"author_id"`
	AuthorName  string    `gorm:"column:author_name;type:varchar(255)" json:"author_name"`
	AuthorEmail *string   `gorm:"column:author_email;type:varchar(255)" json:"-"`
	Content     string    `gorm:"column:content;type:text;not null" json:"content"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (ForumPost) TableName() string { return "forum_posts" }

type ForumNotification struct {
	ID          string     `gorm:"column:id;type:uuid;primary_key" json:"id"`
	RecipientID string     `gorm:"column:recipient_id;type:uuid;not null;index" json:"recipient_id"`
	HandbookID  string     `gorm:"column:handbook_id;type:uuid;not null" json:"handbook_id"`
	TopicID     string     `gorm:"column:topic_id;type:uuid;not null" json:"topic_id"`
	PostID      string     `gorm:"column:post_id;type:uuid;not null" json:"post_id"`
	Type        string     `gorm:"column:type;type:varchar(32);not null" json:"type"`
	Preview     string     `gorm:"column:preview;type:varchar(300)" json:"preview"`
	ReadAt      *time.Time `gorm:"column:read_at" json:"read_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (ForumNotification) TableName() string { return "forum_notifications" }

// NotificationPreference is per user and handbook; a missing row means defaults (all on).
type NotificationPreference struct {
	ID              string    `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID          string    `gorm:"column:user_id;type:uuid;not null;uniqueIndex:idx_notification_pref" json:"user_id"`
	HandbookID      string    `gorm:"column:handbook_id;type:uuid;not null;uniqueIndex:idx_notification_pref" json:"handbook_id"`
	EmailNewReplies bool      `gorm:"column:email_new_replies;not null;default:true" json:"email_new_replies"`
	AppNewReplies   bool      `gorm:"column:app_new_replies;not null;default:true" json:"app_new_replies"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (NotificationPreference) TableName() string { return "user_notification_preferences" }
