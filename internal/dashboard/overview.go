// Package dashboard assembles the preparer overview.
package dashboard

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Davelummy/taxagent/internal/objectstore"
	"github.com/Davelummy/taxagent/internal/review"
)

const (
	RecentIntakeLimit = 40
	RecentClientLimit = 60
	statsConcurrency  = 8
)

// ErrSchemaMissing is returned by sources whose tables do not exist yet.
var ErrSchemaMissing = errors.New("dashboard: database schema missing")

// Filter narrows every query. ExcludeDomain drops rows whose email ends in
// @ExcludeDomain so staff accounts do not count as clients.
type Filter struct {
	ExcludeDomain string
}

// Summary holds the headline counters.
type Summary struct {
	TotalClients          int `json:"total_clients"`
	TotalIntakes          int `json:"total_intakes"`
	AwaitingDocuments     int `json:"awaiting_documents"`
	AwaitingAuthorization int `json:"awaiting_authorization"`
	ReadyToFile           int `json:"ready_to_file"`
}

// IntakeRow is one recent submission joined with its client profile.
type IntakeRow struct {
	ID              int64      `json:"id"`
	ClientUserID    *string    `json:"client_user_id"`
	ClientUsername  *string    `json:"client_username"`
	Email           string     `json:"email"`
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	FilingYear      *int       `json:"filing_year"`
	ReviewStatus    *string    `json:"review_status"`
	ReviewNotes     *string    `json:"review_notes"`
	ReviewUpdatedAt *time.Time `json:"review_updated_at"`
	CreatedAt       time.Time  `json:"created_at"`
	ProfileName     *string    `json:"profile_name"`
	ProfilePhone    *string    `json:"profile_phone"`
}

// ClientRow is one client profile with its latest intake, if any.
type ClientRow struct {
	UserID           string     `json:"supabase_user_id"`
	Email            string     `json:"email"`
	Username         *string    `json:"username"`
	FullName         *string    `json:"full_name"`
	Phone            *string    `json:"phone"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	IntakeStatus     *string    `json:"intake_status"`
	IntakeFilingYear *int       `json:"intake_filing_year"`
	IntakeCreatedAt  *time.Time `json:"intake_created_at"`
}

// StorageStat counts one client's stored objects.
type StorageStat struct {
	Documents      int        `json:"documents"`
	Authorizations int        `json:"authorizations"`
	LastUploadAt   *time.Time `json:"last_upload_at"`
}

// Overview is the full dashboard payload.
type Overview struct {
	Summary              Summary                `json:"summary"`
	Intakes              []IntakeRow            `json:"intakes"`
	Clients              []ClientRow            `json:"clients"`
	UploadStatsAvailable bool                   `json:"upload_stats_available"`
	UploadStats          map[string]StorageStat `json:"upload_stats"`
	ServerTime           time.Time              `json:"server_time"`
}

// Source runs the overview queries.
type Source interface {
	CountClients(ctx context.Context, f Filter) (int, error)
	CountIntakes(ctx context.Context, f Filter) (int, error)
	StatusCounts(ctx context.Context, f Filter) (map[string]int, error)
	RecentIntakes(ctx context.Context, f Filter, limit int) ([]IntakeRow, error)
	RecentClients(ctx context.Context, f Filter, limit int) ([]ClientRow, error)
}

// Service builds overviews.
type Service struct {
	source  Source
	objects objectstore.Store
	filter  Filter
	now     func() time.Time
}

// NewService wires source. objects may be nil, which disables storage stats.
func NewService(source Source, objects objectstore.Store, excludeDomain string) *Service {
	return &Service{source: source, objects: objects, filter: Filter{ExcludeDomain: excludeDomain}, now: time.Now}
}

// Overview runs every query concurrently. Storage stats are best effort and
// skipped when telemetry is false.
func (s *Service) Overview(ctx context.Context, telemetry bool) (Overview, error) {
	var (
		out    Overview
		counts map[string]int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.Summary.TotalClients, err = s.source.CountClients(gctx, s.filter)
		return err
	})
	g.Go(func() (err error) {
		out.Summary.TotalIntakes, err = s.source.CountIntakes(gctx, s.filter)
		return err
	})
	g.Go(func() (err error) {
		counts, err = s.source.StatusCounts(gctx, s.filter)
		return err
	})
	g.Go(func() (err error) {
		out.Intakes, err = s.source.RecentIntakes(gctx, s.filter, RecentIntakeLimit)
		return err
	})
	g.Go(func() (err error) {
		out.Clients, err = s.source.RecentClients(gctx, s.filter, RecentClientLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, ErrSchemaMissing) {
			return Overview{}, ErrSchemaMissing
		}
		return Overview{}, eris.Wrap(err, "dashboard: overview")
	}

	out.Summary.AwaitingDocuments = counts[string(review.AwaitingDocuments)]
	out.Summary.AwaitingAuthorization = counts[string(review.AwaitingAuthorization)]
	out.Summary.ReadyToFile = counts[string(review.ReadyToFile)]
	if out.Intakes == nil {
		out.Intakes = []IntakeRow{}
	}
	if out.Clients == nil {
		out.Clients = []ClientRow{}
	}

	out.UploadStats = map[string]StorageStat{}
	if telemetry && s.objects != nil {
		stats, err := s.storageStats(ctx, usernames(out.Clients))
		if err != nil {
			zap.L().Warn("storage stats unavailable", zap.Error(err))
		} else if stats != nil {
			out.UploadStats, out.UploadStatsAvailable = stats, true
		}
	}
	out.ServerTime = s.now().UTC()
	return out, nil
}

func usernames(clients []ClientRow) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, c := range clients {
		if c.Username == nil || *c.Username == "" {
			continue
		}
		if _, ok := seen[*c.Username]; ok {
			continue
		}
		seen[*c.Username] = struct{}{}
		out = append(out, *c.Username)
	}
	return out
}

// storageStats returns nil when there is nobody to count.
func (s *Service) storageStats(ctx context.Context, names []string) (map[string]StorageStat, error) {
	if len(names) == 0 {
		return nil, nil
	}
	type entry struct {
		key  string
		stat StorageStat
	}
	results := make([]entry, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statsConcurrency)
	for i, name := range names {
		key := objectstore.OwnerKey(name)
		if key == "" {
			continue
		}
		g.Go(func() error {
			docPrefix, authPrefix := objectstore.OwnerPrefixes(key)
			docs, err := s.objects.List(gctx, docPrefix, objectstore.DefaultListLimit)
			if err != nil {
				return err
			}
			auths, err := s.objects.List(gctx, authPrefix, objectstore.DefaultListLimit)
			if err != nil {
				return err
			}
			st := StorageStat{Documents: len(docs), Authorizations: len(auths)}
			for _, o := range append(docs, auths...) {
				if o.CreatedAt.IsZero() {
					continue
				}
				if st.LastUploadAt == nil || o.CreatedAt.After(*st.LastUploadAt) {
					at := o.CreatedAt.UTC()
					st.LastUploadAt = &at
				}
			}
			results[i] = entry{key: key, stat: st}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	stats := make(map[string]StorageStat, len(results))
	for _, r := range results {
		if r.key != "" {
			stats[r.key] = r.stat
		}
	}
	return stats, nil
}
