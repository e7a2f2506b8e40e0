package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/handbok-org/handbok/internal/models"
)

func (s *Store) GetTopic(ctx context.Context, id string) (*models.ForumTopic, error) {
	var t models.ForumTopic
	if err := s.first(ctx, &t, "id = ?", id); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) GetPost(ctx context.Context, id string) (*models.ForumPost, error) {
	var p models.ForumPost
	if err := s.first(ctx, &p, "id = ?", id); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListReplies returns replies oldest first. With limit > 0 only the newest
// limit replies are returned, still oldest first.
func (s *Store) ListReplies(ctx context.Context, topicID string, limit int) ([]*models.ForumPost, error) {
	var out []*models.ForumPost
	q := s.db.WithContext(ctx).Where("topic_id = ?", topicID)
	if limit <= 0 {
		err := q.Order("created_at ASC, id ASC").Find(&out).Error
		return out, translate(err)
	}
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, translate(err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) CountReplies(ctx context.Context, topicID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.ForumPost{}).Where("topic_id = ?", topicID).Count(&n).Error
	return n, translate(err)
}

// CreateReply inserts the post and bumps the topic counters in one statement
// each, inside a transaction.
func (s *Store) CreateReply(ctx context.Context, post *models.ForumPost) error {
	return translate(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(post).Error; err != nil {
			return fmt.Errorf("create post: %w", err)
		}
		return tx.Model(&models.ForumTopic{}).
			Where("id = ?", post.TopicID).
			Updates(map[string]any{
				"reply_count":   gorm.Expr("reply_count + 1"),
				"last_reply_at": post.CreatedAt,
				"updated_at":    post.CreatedAt,
			}).Error
	}))
}

// DeleteReply removes the post, decrements the counter (never below zero) and
// recomputes last_reply_at from the remaining posts.
func (s *Store) DeleteReply(ctx context.Context, post *models.ForumPost) error {
	return translate(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", post.ID).Delete(&models.ForumPost{})
		if res.Error != nil {
			return fmt.Errorf("delete post: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Exec(`UPDATE forum_topics SET
			reply_count = GREATEST(reply_count - 1, 0),
			last_reply_at = (SELECT MAX(created_at) FROM forum_posts WHERE topic_id = ?)
			WHERE id = ?`, post.TopicID, post.TopicID).Error
	}))
}

// ListParticipantIDs returns the distinct authors of a topic's replies.
func (s *Store) ListParticipantIDs(ctx context.Context, topicID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.ForumPost{}).
		Where("topic_id = ? AND author_id IS NOT NULL", topicID).
		Distinct().
		Pluck("author_id", &ids).Error
	return ids, translate(err)
}

func (s *Store) GetNotificationPreference(ctx context.Context, userID, handbookID string) (*models.NotificationPreference, error) {
	var p models.NotificationPreference
	if err := s.first(ctx, &p, "user_id = ? AND handbook_id = ?", userID, handbookID); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateForumNotifications(ctx context.Context, items []*models.ForumNotification) error {
	if len(items) == 0 {
		return nil
	}
	return translate(s.db.WithContext(ctx).Create(&items).Error)
}
