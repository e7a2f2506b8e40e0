package forum

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/handbok-org/handbok/internal/app/service/access"
	"github.com/handbok-org/handbok/internal/models"
	"github.com/handbok-org/handbok/internal/platform/email"
	"github.com/handbok-org/handbok/internal/store/memstore"
	"github.com/handbok-org/handbok/pkg/clock"
	"github.com/handbok-org/handbok/pkg/config"
	"github.com/handbok-org/handbok/pkg/types"
)

var now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeAccess struct {
	members map[string]types.MemberRole
}

func (f fakeAccess) HasAccess(_ context.Context, userID, _ string) access.Result {
	role, ok := f.members[userID]
	if !ok {
		return access.Result{Reason: access.ReasonNotAMember}
	}
	return access.Result{HasAccess: true, Reason: access.ReasonMember, Role: role}
}

func (f fakeAccess) IsAdmin(_ context.Context, userID, _ string) bool {
	return f.members[userID] == types.MemberRoleAdmin
}

type fixture struct {
	svc  *Service
	mem  *memstore.MemoryStore
	mail *email.Recorder
	clk  *clock.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memstore.New()
	mail := &email.Recorder{}
	clk := clock.NewFake(now)
	cfg := &config.Config{}
	cfg.Server.PublicURL = "https://www.handbok.org"
	cfg.Forum.DefaultReplyLimit = 5
	cfg.Forum.MaxReplyLength = 10000
	checker := fakeAccess{members: map[string]types.MemberRole{
		"alice": types.MemberRoleMember,
		"bob":   types.MemberRoleMember,
		"carol": types.MemberRoleMember,
		"admin": types.MemberRoleAdmin,
	}}

	author := "alice"
	mem.PutHandbook(&models.Handbook{ID: "hb", Title: "Brf Solen", Subdomain: "solen", ForumEnabled: true})
	mem.PutTopic(&models.ForumTopic{ID: "topic", HandbookID: "hb", Title: "Tvättstugan", AuthorID: &author, CreatedAt: now.Add(-time.Hour)})
	for _, id := range []string{"alice", "bob", "carol", "admin"} {
		mem.PutProfile(&models.Profile{ID: id, Email: id + "@example.com"})
	}

	svc := NewService(cfg, mem, checker, mail, clk, zap.NewNop().Sugar())
	return &fixture{svc: svc, mem: mem, mail: mail, clk: clk}
}

func (f *fixture) reply(t *testing.T, userID, content string) *models.ForumPost {
	t.Helper()
	post, err := f.svc.CreateReply(context.Background(), userID, CreateReplyRequest{TopicID: "topic", Content: content})
	require.NoError(t, err)
	f.svc.Wait()
	f.clk.Advance(time.Minute)
	return post
}

func TestCreateReplyBumpsCounters(t *testing.T) {
	f := newFixture(t)

	post := f.reply(t, "bob", "  Jag bokar torsdag.  ")

	require.Equal(t, "Jag bokar torsdag.", post.Content)
	require.Equal(t, "bob", post.AuthorName)
	topic := f.mem.Topic("topic")
	require.Equal(t, 1, topic.ReplyCount)
	require.NotNil(t, topic.LastReplyAt)
	require.True(t, topic.LastReplyAt.Equal(now))
}

func TestCreateReplyValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateReply(ctx, "bob", CreateReplyRequest{TopicID: "topic", Content: "   "})
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.svc.CreateReply(ctx, "bob", CreateReplyRequest{TopicID: "topic", Content: strings.Repeat("ä", 10001)})
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.svc.CreateReply(ctx, "bob", CreateReplyRequest{TopicID: "missing", Content: "hej"})
	require.ErrorIs(t, err, ErrTopicNotFound)

	_, err = f.svc.CreateReply(ctx, "mallory", CreateReplyRequest{TopicID: "topic", Content: "hej"})
	require.ErrorIs(t, err, ErrForbidden)

	f.mem.Handbooks["hb"].ForumEnabled = false
	_, err = f.svc.CreateReply(ctx, "bob", CreateReplyRequest{TopicID: "topic", Content: "hej"})
	require.ErrorIs(t, err, ErrForumDisabled)

	require.Zero(t, f.mem.Topic("topic").ReplyCount)
}

func TestCreateReplyMaxLengthCountsRunes(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateReply(context.Background(), "bob", CreateReplyRequest{TopicID: "topic", Content: strings.Repeat("ö", 10000)})
	require.NoError(t, err)
	f.svc.Wait()
}

func TestCreateReplyNotifiesAuthorAndParticipants(t *testing.T) {
	f := newFixture(t)
	f.reply(t, "bob", "Första svaret")
	f.mail.Reset()

	f.reply(t, "carol", "<p>Andra <b>svaret</b></p>")

	require.Len(t, f.mem.NotificationsFor("alice"), 2)
	bobs := f.mem.NotificationsFor("bob")
	require.Len(t, bobs, 1)
	require.Equal(t, "Andra svaret", bobs[0].Preview)
	require.Empty(t, f.mem.NotificationsFor("carol"))

	var to []string
	for _, m := range f.mail.Sent() {
		to = append(to, m.To...)
	}
	require.ElementsMatch(t, []string{"alice@example.com", "bob@example.com"}, to)
}

func TestCreateReplyHonoursPreferences(t *testing.T) {
	f := newFixture(t)
	f.mem.Preferences["p1"] = &models.NotificationPreference{ID: "p1", UserID: "alice", HandbookID: "hb", EmailNewReplies: false, AppNewReplies: true}

	f.reply(t, "bob", "Hej")

	require.Len(t, f.mem.NotificationsFor("alice"), 1)
	require.Empty(t, f.mail.Sent())
}

func TestNotificationFailureDoesNotFailReply(t *testing.T) {
	f := newFixture(t)
	f.mem.FailOn("CreateForumNotifications", errors.New("db down"))
	f.mail.SetErr(errors.New("resend down"))

	post := f.reply(t, "bob", "Hej")
	require.NotEmpty(t, post.ID)
	require.Equal(t, 1, f.mem.Topic("topic").ReplyCount)
}

func TestListReplies(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 7; i++ {
		f.reply(t, "bob", fmt.Sprintf("svar %d", i))
	}
	ctx := context.Background()

	res, err := f.svc.ListReplies(ctx, "alice", ListRepliesRequest{TopicID: "topic"})
	require.NoError(t, err)
	require.Len(t, res.Replies, 5)
	require.Equal(t, "svar 3", res.Replies[0].Content)
	require.Equal(t, "svar 7", res.Replies[4].Content)
	require.EqualValues(t, 7, res.Total)
	require.True(t, res.HasMore)

	res, err = f.svc.ListReplies(ctx, "alice", ListRepliesRequest{TopicID: "topic", All: true})
	require.NoError(t, err)
	require.Len(t, res.Replies, 7)
	require.False(t, res.HasMore)

	_, err = f.svc.ListReplies(ctx, "mallory", ListRepliesRequest{TopicID: "topic"})
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.ListReplies(ctx, "alice", ListRepliesRequest{})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestDeleteReplyPermissions(t *testing.T) {
	f := newFixture(t)
	first := f.reply(t, "bob", "ett")
	second := f.reply(t, "bob", "två")
	ctx := context.Background()

	require.ErrorIs(t, f.svc.DeleteReply(ctx, "carol", second.ID), ErrForbidden)
	require.ErrorIs(t, f.svc.DeleteReply(ctx, "bob", "missing"), ErrPostNotFound)

	require.NoError(t, f.svc.DeleteReply(ctx, "bob", second.ID))
	topic := f.mem.Topic("topic")
	require.Equal(t, 1, topic.ReplyCount)
	require.True(t, topic.LastReplyAt.Equal(first.CreatedAt))

	require.NoError(t, f.svc.DeleteReply(ctx, "admin", first.ID))
	topic = f.mem.Topic("topic")
	require.Zero(t, topic.ReplyCount)
	require.Nil(t, topic.LastReplyAt)
}

func TestConcurrentRepliesKeepCounterExact(t *testing.T) {
	f := newFixture(t)
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.CreateReply(context.Background(), "bob", CreateReplyRequest{TopicID: "topic", Content: fmt.Sprintf("svar %d", i)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	f.svc.Wait()
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 20, f.mem.Topic("topic").ReplyCount)
}
