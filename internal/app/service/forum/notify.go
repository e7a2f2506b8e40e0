package forum

import (
	"context"
	"errors"
	"strings"

	"github.com/samber/lo"

	"github.com/handbok-org/handbok/internal/models"
	"github.com/handbok-org/handbok/internal/platform/email"
	"github.com/handbok-org/handbok/internal/store"
	"github.com/handbok-org/handbok/pkg/logctx"
	"github.com/handbok-org/handbok/pkg/textutil"
	"github.com/handbok-org/handbok/pkg/tool"
)

// notify tells the topic author and earlier participants about a new reply.
// Every failure is logged; nothing is returned to the caller.
func (s *Service) notify(ctx context.Context, hb *models.Handbook, topic *models.ForumTopic, post *models.ForumPost) {
	l := logctx.FromCtx(ctx, s.log)
	participants, err := s.repo.ListParticipantIDs(ctx, topic.ID)
	if err != nil {
		l.Warnw("forum_notify_participants_failed", "topic_id", topic.ID, "err", err)
	}
	if topic.AuthorID != nil {
		participants = append([]string{*topic.AuthorID}, participants...)
	}
	recipients := lo.Without(lo.Uniq(participants), *post.AuthorID)
	if len(recipients) == 0 {
		return
	}

	preview := textutil.Preview(textutil.HTMLToText(post.Content), previewLength)
	topicURL := strings.TrimRight(s.cfg.Server.PublicURL, "/") + "/" + hb.Subdomain + "/forum/" + topic.ID

	var inApp []*models.ForumNotification
	for _, userID := range recipients {
		pref := s.preference(ctx, userID, hb.ID)
		if pref.AppNewReplies {
			inApp = append(inApp, &models.ForumNotification{
				ID:          tool.GenerateUUIDV7(),
				RecipientID: userID,
				HandbookID:  hb.ID,
				TopicID:     topic.ID,
				PostID:      post.ID,
				Type:        notificationTypeReply,
				Preview:     preview,
			})
		}
		if !pref.EmailNewReplies {
			continue
		}
		profile, err := s.repo.GetProfile(ctx, userID)
		if err != nil || profile.Email == "" {
			l.Debugw("forum_notify_no_email", "user_id", userID, "err", err)
			continue
		}
		if err := s.mail.Send(ctx, email.ForumReply(profile.Email, topic.Title, post.AuthorName, preview, topicURL)); err != nil {
			l.Warnw("forum_notify_email_failed", "user_id", userID, "err", err)
		}
	}
	if err := s.repo.CreateForumNotifications(ctx, inApp); err != nil {
		l.Warnw("forum_notify_store_failed", "topic_id", topic.ID, "count", len(inApp), "err", err)
	}
}

// preference falls back to everything on when no row exists or it cannot be read.
func (s *Service) preference(ctx context.Context, userID, handbookID string) *models.NotificationPreference {
	p, err := s.repo.GetNotificationPreference(ctx, userID, handbookID)
	if err == nil {
		return p
	}
	if !errors.Is(err, store.ErrNotFound) {
		logctx.FromCtx(ctx, s.log).Warnw("forum_notify_preference_failed", "user_id", userID, "err", err)
	}
	return &models.NotificationPreference{UserID: userID, HandbookID: handbookID, EmailNewReplies: true, AppNewReplies: true}
}
