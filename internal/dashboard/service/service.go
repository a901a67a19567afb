// Package service holds the dashboard's business logic between the HTTP
// handlers and the analytics client, cache, snapshot store and the in-memory
// record collections.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pabbly/hookdash/internal/activity"
	"github.com/pabbly/hookdash/internal/analytics"
	"github.com/pabbly/hookdash/internal/analytics/cache"
	"github.com/pabbly/hookdash/internal/analytics/client"
	"github.com/pabbly/hookdash/internal/analytics/snapshot"
	"github.com/pabbly/hookdash/internal/analytics/validate"
	"github.com/pabbly/hookdash/internal/domain"
	"github.com/pabbly/hookdash/internal/table"
	apperrors "github.com/pabbly/hookdash/pkg/errors"
	"github.com/pabbly/hookdash/pkg/logger"
	"github.com/pabbly/hookdash/pkg/metrics"
)

// Record types as they appear in activity events.
const (
	KindConnection  = "connection"
	KindTeamMember  = "team_member"
	KindSMTPAccount = "smtp_account"
	KindIntegration = "integration"
)

// DateRangeError rejects an analytics request whose date filters do not
// parse or are out of order.
type DateRangeError struct {
	Errors []string
}

func (e *DateRangeError) Error() string {
	return "invalid date range: " + strings.Join(e.Errors, "; ")
}

func (e *DateRangeError) Unwrap() error   { return apperrors.ErrInvalidInput }
func (e *DateRangeError) HTTPStatus() int { return http.StatusBadRequest }

// AnalyticsReport is an aggregate load plus what the service learned about it.
type AnalyticsReport struct {
	*analytics.Result
	Warnings   []string `json:"warnings"`
	Cached     bool     `json:"cached"`
	SnapshotID int64    `json:"snapshotId,omitempty"`
}

// Service wires the analytics pipeline and the record collections together.
type Service struct {
	client    *client.Client
	cache     *cache.Cache
	snapshots *snapshot.Store
	retain    int
	feed      *activity.Feed
	metrics   *metrics.Metrics
	logger    *slog.Logger

	Connections  *Records[domain.Connection, domain.ConnectionInput]
	TeamMembers  *Records[domain.TeamMember, domain.TeamMemberInput]
	SMTPAccounts *Records[domain.SMTPAccount, domain.SMTPAccountInput]
	Integrations *Records[domain.Integration, domain.IntegrationInput]
}

type Option func(*Service)

// WithCache stores aggregate results between requests.
func WithCache(c *cache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithMetrics counts validation warnings raised on upstream data.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithSnapshots persists every freshly fetched aggregate, keeping the newest
// retain snapshots. retain <= 0 keeps everything.
func WithSnapshots(store *snapshot.Store, retain int) Option {
	return func(s *Service) {
		s.snapshots = store
		s.retain = retain
	}
}

func New(c *client.Client, feed *activity.Feed, opts ...Option) *Service {
	s := &Service{
		client: c,
		feed:   feed,
		logger: logger.WithComponent("dashboard-service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = cache.New(nil, 0, nil)
	}

	s.Connections = NewRecords[domain.Connection, domain.ConnectionInput](
		KindConnection, domain.ConnectionView, func(c domain.Connection) string { return c.Name }, feed)
	s.TeamMembers = NewRecords[domain.TeamMember, domain.TeamMemberInput](
		KindTeamMember, domain.TeamMemberView, func(m domain.TeamMember) string { return m.Email }, feed)
	s.SMTPAccounts = NewRecords[domain.SMTPAccount, domain.SMTPAccountInput](
		KindSMTPAccount, domain.SMTPAccountView, func(a domain.SMTPAccount) string { return a.Name }, feed)
	s.Integrations = NewRecords[domain.Integration, domain.IntegrationInput](
		KindIntegration, domain.IntegrationView, func(i domain.Integration) string { return i.Name }, feed)
	return s
}

// Analytics loads all six sections for f. Results come from the cache when
// possible; a fresh load is validated and, when a snapshot store is
// configured, persisted.
func (s *Service) Analytics(ctx context.Context, f analytics.Filters) (*AnalyticsReport, error) {
	if err := checkDates(f); err != nil {
		return nil, err
	}

	// The token scopes the cache, so a result is only reused for a caller
	// the analytics service would have answered the same way.
	token, err := s.client.Token(ctx)
	if err != nil {
		return nil, err
	}
	res, cached, err := s.cache.GetOrCompute(ctx, f, token, func(ctx context.Context) (*analytics.Result, error) {
		return s.client.GetAllAnalytics(ctx, f)
	})
	if err != nil {
		return nil, err
	}

	warnings, err := validate.ValidateResult(res)
	if err != nil {
		return nil, err
	}
	if !cached {
		s.countWarnings(len(warnings))
	}
	report := &AnalyticsReport{Result: res, Warnings: warnings, Cached: cached}

	if !cached && s.snapshots != nil {
		id, err := s.snapshots.Save(ctx, res)
		if err != nil {
			logger.FromContext(ctx).Error("snapshot not saved", "error", err)
		} else {
			report.SnapshotID = id
			s.prune(ctx)
		}
	}
	return report, nil
}

func (s *Service) prune(ctx context.Context) {
	if s.retain <= 0 {
		return
	}
	if n, err := s.snapshots.Prune(ctx, s.retain); err != nil {
		s.logger.Error("snapshot prune failed", "error", err)
	} else if n > 0 {
		s.logger.Debug("snapshots pruned", "deleted", n)
	}
}

// checkDates validates whichever of startDate and endDate are present. With
// both present the range must also be ordered.
func checkDates(f analytics.Filters) error {
	start, end := f.String("startDate"), f.String("endDate")
	switch {
	case start != "" && end != "":
		if r := validate.ValidateDateRange(start, end); !r.Valid {
			return &DateRangeError{Errors: r.Errors}
		}
	case start != "":
		if _, err := validate.ParseDate(start); err != nil {
			return &DateRangeError{Errors: []string{"Invalid start date"}}
		}
	case end != "":
		if _, err := validate.ParseDate(end); err != nil {
			return &DateRangeError{Errors: []string{"Invalid end date"}}
		}
	}
	return nil
}

// Section fetches a single section's envelope, bypassing the cache.
func (s *Service) Section(ctx context.Context, section string, f analytics.Filters) (map[string]any, error) {
	if err := checkDates(f); err != nil {
		return nil, err
	}
	raw, err := s.client.GetSection(ctx, section, f)
	if err != nil {
		return nil, err
	}
	out, err := validate.ValidateAPIResponse(raw)
	if err != nil {
		return nil, err
	}
	if _, ok := out["success"]; !ok {
		s.countWarnings(1)
	}
	return out, nil
}

func (s *Service) countWarnings(n int) {
	if s.metrics != nil && n > 0 {
		s.metrics.ValidationWarningsTotal.Add(float64(n))
	}
}

// Snapshots lists recent persisted loads, newest first.
func (s *Service) Snapshots(ctx context.Context, limit int) ([]snapshot.Snapshot, error) {
	if s.snapshots == nil {
		return nil, apperrors.New(apperrors.ErrUnavailable, http.StatusNotFound, "snapshots are not enabled")
	}
	return s.snapshots.List(ctx, limit)
}

// Snapshot loads one persisted load.
func (s *Service) Snapshot(ctx context.Context, id int64) (*snapshot.Snapshot, error) {
	if s.snapshots == nil {
		return nil, apperrors.New(apperrors.ErrUnavailable, http.StatusNotFound, "snapshots are not enabled")
	}
	return s.snapshots.Get(ctx, id)
}

// LatestSnapshot loads the newest persisted load, so the dashboard can show
// the last known figures while the analytics service is down.
func (s *Service) LatestSnapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	if s.snapshots == nil {
		return nil, apperrors.New(apperrors.ErrUnavailable, http.StatusNotFound, "snapshots are not enabled")
	}
	snap, err := s.snapshots.Latest(ctx)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, apperrors.New(apperrors.ErrNotFound, http.StatusNotFound, "no snapshots recorded yet")
	}
	return snap, nil
}

// InvalidateCache drops every cached aggregate and returns how many entries
// were removed.
func (s *Service) InvalidateCache(ctx context.Context) (int64, error) {
	n, err := s.cache.Invalidate(ctx)
	if err != nil {
		return n, fmt.Errorf("%w: %v", apperrors.ErrUnavailable, err)
	}
	return n, nil
}

// CacheEnabled reports whether aggregates are cached between requests.
func (s *Service) CacheEnabled() bool {
	return s.cache.Enabled()
}

// ActivityLogs lists the activity feed through the table pipeline.
func (s *Service) ActivityLogs(q table.Query) table.Page[domain.ActivityLog] {
	return table.Run(s.feed.List(), domain.ActivityLogView, q)
}
