package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/handbok-org/handbok/internal/models"
)

func (s *Store) GetHandbook(ctx context.Context, id string) (*models.Handbook, error) {
	var h models.Handbook
	if err := s.first(ctx, &h, "id = ?", id); err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *Store) GetHandbookBySubdomain(ctx context.Context, subdomain string) (*models.Handbook, error) {
	var h models.Handbook
	if err := s.first(ctx, &h, "subdomain = ?", subdomain); err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	var p models.Profile
	if err := s.first(ctx, &p, "id = ?", userID); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetMember(ctx context.Context, handbookID, userID string) (*models.HandbookMember, error) {
	var m models.HandbookMember
	if err := s.first(ctx, &m, "handbook_id = ? AND user_id = ?", handbookID, userID); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) ListOwnedHandbooks(ctx context.Context, userID string) ([]*models.Handbook, error) {
	var out []*models.Handbook
	err := s.db.WithContext(ctx).Where("owner_id = ?", userID).Order("created_at").Find(&out).Error
	return out, translate(err)
}

// ListMemberHandbooks returns handbooks the user is a member of but does not own.
func (s *Store) ListMemberHandbooks(ctx context.Context, userID string) ([]HandbookMembership, error) {
	var members []*models.HandbookMember
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&members).Error; err != nil {
		return nil, translate(err)
	}
	if len(members) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(members))
	roles := make(map[string]*models.HandbookMember, len(members))
	for _, m := range members {
		ids = append(ids, m.HandbookID)
		roles[m.HandbookID] = m
	}
	var handbooks []*models.Handbook
	err := s.db.WithContext(ctx).
		Where("id IN ?", ids).
		Where("owner_id IS NULL OR owner_id <> ?", userID).
		Order("created_at").
		Find(&handbooks).Error
	if err != nil {
		return nil, translate(err)
	}
	out := make([]HandbookMembership, 0, len(handbooks))
	for _, h := range handbooks {
		out = append(out, HandbookMembership{Handbook: h, Role: roles[h.ID].Role})
	}
	return out, nil
}

// CreateHandbook inserts the handbook, the owner's admin membership and the
// trial subscription in one transaction.
func (s *Store) CreateHandbook(ctx context.Context, h *models.Handbook, owner *models.HandbookMember, sub *models.Subscription) error {
	return translate(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(h).Error; err != nil {
			return fmt.Errorf("create handbook: %w", err)
		}
		if err := tx.Create(owner).Error; err != nil {
			return fmt.Errorf("create owner membership: %w", err)
		}
		if sub != nil {
			if err := tx.Create(sub).Error; err != nil {
				return fmt.Errorf("create trial subscription: %w", err)
			}
		}
		return nil
	}))
}

func (s *Store) DeleteMembership(ctx context.Context, handbookID, userID string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("handbook_id = ? AND user_id = ?", handbookID, userID).
		Delete(&models.HandbookMember{})
	return res.RowsAffected > 0, translate(res.Error)
}

// DeleteHandbook removes the handbook and everything hanging off it.
func (s *Store) DeleteHandbook(ctx context.Context, handbookID string) error {
	return translate(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sectionIDs := tx.Model(&models.Section{}).Select("id").Where("handbook_id = ?", handbookID)
		if err := tx.Where("section_id IN (?)", sectionIDs).Delete(&models.Page{}).Error; err != nil {
			return fmt.Errorf("delete pages: %w", err)
		}
		for _, m := range []any{
			&models.Section{},
			&models.HandbookMember{},
			&models.Subscription{},
			&models.ForumNotification{},
			&models.ForumPost{},
			&models.ForumTopic{},
			&models.NotificationPreference{},
			&models.DocumentImport{},
		} {
			if err := tx.Where("handbook_id = ?", handbookID).Delete(m).Error; err != nil {
				return fmt.Errorf("delete %T: %w", m, err)
			}
		}
		return tx.Where("id = ?", handbookID).Delete(&models.Handbook{}).Error
	}))
}

func (s *Store) ListSectionsWithPages(ctx context.Context, handbookID string) ([]SectionWithPages, error) {
	var sections []*models.Section
	if err := s.db.WithContext(ctx).Where("handbook_id = ?", handbookID).Order("order_index").Find(&sections).Error; err != nil {
		return nil, translate(err)
	}
	if len(sections) == 0 {
		return nil, nil
	}
	ids := make([]string, len(sections))
	for i, sec := range sections {
		ids[i] = sec.ID
	}
	var pages []*models.Page
	if err := s.db.WithContext(ctx).Where("section_id IN ?", ids).Order("order_index").Find(&pages).Error; err != nil {
		return nil, translate(err)
	}
	bySection := make(map[string][]*models.Page, len(sections))
	for _, p := range pages {
		bySection[p.SectionID] = append(bySection[p.SectionID], p)
	}
	out := make([]SectionWithPages, len(sections))
	for i, sec := range sections {
		out[i] = SectionWithPages{Section: sec, Pages: bySection[sec.ID]}
	}
	return out, nil
}
