package gdpr

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/handbok-org/handbok/internal/store"
	"github.com/handbok-org/handbok/pkg/textutil"
	"github.com/handbok-org/handbok/pkg/types"
)

type exportData struct {
	ExportInfo   exportInfo       `json:"export_info"`
	UserProfile  *profileExport   `json:"user_profile"`
	DataSummary  dataSummary      `json:"data_summary"`
	Handbooks    []handbookExport `json:"handbooks"`
	GDPRRequests []requestExport  `json:"gdpr_requests"`
	Consents     []consentExport  `json:"consents"`
	ActivityLog  []activityExport `json:"activity_log"`
}

type exportInfo struct {
	GeneratedAt time.Time          `json:"generated_at"`
	UserID      string             `json:"user_id"`
	Format      types.ExportFormat `json:"format"`
	LegalBasis  string             `json:"legal_basis"`
}

type profileExport struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	CreatedAt time.Time `json:"created_at"`
}

type dataSummary struct {
	OwnedHandbooks  int `json:"owned_handbooks"`
	MemberHandbooks int `json:"member_handbooks"`
	Pages           int `json:"pages"`
	GDPRRequests    int `json:"gdpr_requests"`
	Consents        int `json:"consents"`
	ActivityEntries int `json:"activity_entries"`
}

type handbookExport struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Subdomain string          `json:"subdomain"`
	Role      string          `json:"role"`
	CreatedAt time.Time       `json:"created_at"`
	Sections  []sectionExport `json:"sections,omitempty"`
}

type sectionExport struct {
	Title string       `json:"title"`
	Pages []pageExport `json:"pages"`
}

type pageExport struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type requestExport struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

type consentExport struct {
	Type        string     `json:"type"`
	Granted     bool       `json:"granted"`
	GrantedAt   *time.Time `json:"granted_at,omitempty"`
	WithdrawnAt *time.Time `json:"withdrawn_at,omitempty"`
}

type activityExport struct {
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	CreatedAt    time.Time `json:"created_at"`
}

const ownerRole = "owner"

func (s *Service) collect(ctx context.Context, userID string, format types.ExportFormat, now time.Time) (*exportData, error) {
	out := &exportData{
		ExportInfo: exportInfo{
			GeneratedAt: now,
			UserID:      userID,
			Format:      format,
			LegalBasis:  "GDPR Art. 15 & 20",
		},
	}

	profile, err := s.repo.GetProfile(ctx, userID)
	switch {
	case err == nil:
		out.UserProfile = &profileExport{ID: profile.ID, Email: profile.Email, FullName: profile.FullName, CreatedAt: profile.CreatedAt}
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("profile: %w", err)
	}

	owned, err := s.repo.ListOwnedHandbooks(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("owned handbooks: %w", err)
	}
	for _, h := range owned {
		sections, err := s.repo.ListSectionsWithPages(ctx, h.ID)
		if err != nil {
			return nil, fmt.Errorf("sections of %s: %w", h.ID, err)
		}
		hb := handbookExport{ID: h.ID, Title: h.Title, Subdomain: h.Subdomain, Role: ownerRole, CreatedAt: h.CreatedAt}
		for _, sec := range sections {
			se := sectionExport{Title: sec.Section.Title, Pages: make([]pageExport, 0, len(sec.Pages))}
			for _, p := range sec.Pages {
				se.Pages = append(se.Pages, pageExport{Title: p.Title, Content: textutil.HTMLToText(p.Content)})
			}
			out.DataSummary.Pages += len(sec.Pages)
			hb.Sections = append(hb.Sections, se)
		}
		out.Handbooks = append(out.Handbooks, hb)
	}
	memberships, err := s.repo.ListMemberHandbooks(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("memberships: %w", err)
	}
	for _, m := range memberships {
		out.Handbooks = append(out.Handbooks, handbookExport{
			ID: m.Handbook.ID, Title: m.Handbook.Title, Subdomain: m.Handbook.Subdomain,
			Role: string(m.Role), CreatedAt: m.Handbook.CreatedAt,
		})
	}

	requests, err := s.repo.ListGDPRRequests(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("gdpr requests: %w", err)
	}
	for _, r := range requests {
		out.GDPRRequests = append(out.GDPRRequests, requestExport{
			ID: r.ID, Type: string(r.RequestType), Status: string(r.Status), CreatedAt: r.CreatedAt, ProcessedAt: r.ProcessedAt,
		})
	}

	consents, err := s.repo.ListConsents(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("consents: %w", err)
	}
	for _, c := range consents {
		out.Consents = append(out.Consents, consentExport{Type: c.ConsentType, Granted: c.Granted, GrantedAt: c.GrantedAt, WithdrawnAt: c.WithdrawnAt})
	}

	logs, err := s.repo.ListAuditLogsForUser(ctx, userID, now.Add(-s.cfg.GDPR.AuditLookback), s.cfg.GDPR.AuditLimit)
	if err != nil {
		return nil, fmt.Errorf("activity: %w", err)
	}
	for _, a := range logs {
		out.ActivityLog = append(out.ActivityLog, activityExport{Action: a.Action, ResourceType: a.ResourceType, CreatedAt: a.CreatedAt})
	}

	out.DataSummary.OwnedHandbooks = len(owned)
	out.DataSummary.MemberHandbooks = len(memberships)
	out.DataSummary.GDPRRequests = len(out.GDPRRequests)
	out.DataSummary.Consents = len(out.Consents)
	out.DataSummary.ActivityEntries = len(out.ActivityLog)
	return out, nil
}

func renderJSON(d *exportData) ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// renderCSV writes one block per section, each opened by a "# name" row and
// its own header row.
func renderCSV(d *exportData) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	section := func(name string, header []string, rows [][]string) {
		_ = w.Write([]string{"# " + name})
		_ = w.Write(header)
		for _, r := range rows {
			_ = w.Write(r)
		}
	}

	section("export_info", []string{"generated_at", "user_id", "format", "legal_basis"}, [][]string{{
		ts(d.ExportInfo.GeneratedAt), d.ExportInfo.UserID, string(d.ExportInfo.Format), d.ExportInfo.LegalBasis,
	}})

	var profileRows [][]string
	if p := d.UserProfile; p != nil {
		profileRows = append(profileRows, []string{p.ID, p.Email, p.FullName, ts(p.CreatedAt)})
	}
	section("user_profile", []string{"id", "email", "full_name", "created_at"}, profileRows)

	s := d.DataSummary
	section("data_summary", []string{"owned_handbooks", "member_handbooks", "pages", "gdpr_requests", "consents", "activity_entries"}, [][]string{{
		strconv.Itoa(s.OwnedHandbooks), strconv.Itoa(s.MemberHandbooks), strconv.Itoa(s.Pages),
		strconv.Itoa(s.GDPRRequests), strconv.Itoa(s.Consents), strconv.Itoa(s.ActivityEntries),
	}})

	var hbRows [][]string
	for _, h := range d.Handbooks {
		if len(h.Sections) == 0 {
			hbRows = append(hbRows, []string{h.ID, h.Title, h.Subdomain, h.Role, "", "", ""})
			continue
		}
		for _, sec := range h.Sections {
			for _, p := range sec.Pages {
				hbRows = append(hbRows, []string{h.ID, h.Title, h.Subdomain, h.Role, sec.Title, p.Title, p.Content})
			}
		}
	}
	section("handbooks", []string{"handbook_id", "title", "subdomain", "role", "section", "page", "content"}, hbRows)

	var reqRows [][]string
	for _, r := range d.GDPRRequests {
		processed := ""
		if r.ProcessedAt != nil {
			processed = ts(*r.ProcessedAt)
		}
		reqRows = append(reqRows, []string{r.ID, r.Type, r.Status, ts(r.CreatedAt), processed})
	}
	section("gdpr_requests", []string{"id", "type", "status", "created_at", "processed_at"}, reqRows)

	var consentRows [][]string
	for _, c := range d.Consents {
		consentRows = append(consentRows, []string{c.Type, strconv.FormatBool(c.Granted), tsp(c.GrantedAt), tsp(c.WithdrawnAt)})
	}
	section("consents", []string{"type", "granted", "granted_at", "withdrawn_at"}, consentRows)

	var activityRows [][]string
	for _, a := range d.ActivityLog {
		activityRows = append(activityRows, []string{a.Action, a.ResourceType, ts(a.CreatedAt)})
	}
	section("activity_log", []string{"action", "resource_type", "created_at"}, activityRows)

	w.Flush()
	return buf.Bytes(), w.Error()
}

func ts(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func tsp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return ts(*t)
}
