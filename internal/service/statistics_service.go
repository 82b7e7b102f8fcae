package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/robotask-client/internal/models"
)

type statisticsAPI interface {
	Overview(ctx context.Context) (*models.StatisticsOverview, error)
	TaskStatistics(ctx context.Context) ([]models.TaskStatistic, error)
	StudentStatistics(ctx context.Context) ([]models.StudentStatistic, error)
}

// StatisticsSnapshot holds the last fetched statistics.
type StatisticsSnapshot struct {
	Overview   *models.StatisticsOverview `json:"overview"`
	PerTask    []models.TaskStatistic     `json:"per_task"`
	PerStudent []models.StudentStatistic  `json:"per_student"`
	Loading    bool                       `json:"loading"`
	FetchedAt  *time.Time                 `json:"fetched_at,omitempty"`
}

type statKind int

const (
	statOverview statKind = iota
	statPerTask
	statPerStudent
	statKinds
)

// fetchTag identifies a fetch: the session generation it started under and
// its sequence number per statistic.
type fetchTag struct {
	generation uint64
	seq        [statKinds]uint64
}

// StatisticsService fetches admin statistics. Every fetch replaces the
// previous value; nothing is mutated locally. When fetches of the same
// statistic overlap, only the most recently started one is kept.
type StatisticsService struct {
	api     statisticsAPI
	roles   roleSource
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time

	mu         sync.Mutex
	generation uint64
	seq        [statKinds]uint64
	loading    int
	overview   *models.StatisticsOverview
	perTask    []models.TaskStatistic
	perStudent []models.StudentStatistic
	fetchedAt  *time.Time
}

// NewStatisticsService constructs a StatisticsService.
func NewStatisticsService(api statisticsAPI, roles roleSource, logger *zap.Logger, timeout time.Duration) *StatisticsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &StatisticsService{api: api, roles: roles, logger: logger, timeout: timeout, now: time.Now}
}

// FetchOverview loads the overview figures.
func (s *StatisticsService) FetchOverview(ctx context.Context) (*models.StatisticsOverview, error) {
	tag, ctx, done, err := s.begin(ctx, statOverview)
	if err != nil {
		return nil, err
	}
	defer done()

	overview, err := s.api.Overview(ctx)
	if err != nil {
		return nil, err
	}
	s.apply(tag, map[statKind]func(){statOverview: func() { s.overview = overview }})
	out := *overview
	return &out, nil
}

// FetchPerTask loads the per-task rollup.
func (s *StatisticsService) FetchPerTask(ctx context.Context) ([]models.TaskStatistic, error) {
	tag, ctx, done, err := s.begin(ctx, statPerTask)
	if err != nil {
		return nil, err
	}
	defer done()

	stats, err := s.api.TaskStatistics(ctx)
	if err != nil {
		return nil, err
	}
	s.apply(tag, map[statKind]func(){statPerTask: func() { s.perTask = stats }})
	return append([]models.TaskStatistic{}, stats...), nil
}

// FetchPerStudent loads the per-student rollup.
func (s *StatisticsService) FetchPerStudent(ctx context.Context) ([]models.StudentStatistic, error) {
	tag, ctx, done, err := s.begin(ctx, statPerStudent)
	if err != nil {
		return nil, err
	}
	defer done()

	stats, err := s.api.StudentStatistics(ctx)
	if err != nil {
		return nil, err
	}
	s.apply(tag, map[statKind]func(){statPerStudent: func() { s.perStudent = stats }})
	return append([]models.StudentStatistic{}, stats...), nil
}

// FetchDashboard loads the three views concurrently. The first failure
// cancels the others and nothing is replaced.
func (s *StatisticsService) FetchDashboard(ctx context.Context) (*models.StatisticsDashboard, error) {
	tag, ctx, done, err := s.begin(ctx, statOverview, statPerTask, statPerStudent)
	if err != nil {
		return nil, err
	}
	defer done()

	var (
		overview   *models.StatisticsOverview
		perTask    []models.TaskStatistic
		perStudent []models.StudentStatistic
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		overview, err = s.api.Overview(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		perTask, err = s.api.TaskStatistics(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		perStudent, err = s.api.StudentStatistics(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.apply(tag, map[statKind]func(){
		statOverview:   func() { s.overview = overview },
		statPerTask:    func() { s.perTask = perTask },
		statPerStudent: func() { s.perStudent = perStudent },
	})
	return &models.StatisticsDashboard{
		Overview:   overview,
		PerTask:    append([]models.TaskStatistic{}, perTask...),
		PerStudent: append([]models.StudentStatistic{}, perStudent...),
	}, nil
}

// Snapshot returns the last fetched values.
func (s *StatisticsService) Snapshot() StatisticsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := StatisticsSnapshot{
		PerTask:    append([]models.TaskStatistic{}, s.perTask...),
		PerStudent: append([]models.StudentStatistic{}, s.perStudent...),
		Loading:    s.loading > 0,
	}
	if s.overview != nil {
		overview := *s.overview
		snap.Overview = &overview
	}
	if s.fetchedAt != nil {
		ts := *s.fetchedAt
		snap.FetchedAt = &ts
	}
	return snap
}

// Reset forgets fetched values; results of fetches still in flight are
// dropped.
func (s *StatisticsService) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.overview = nil
	s.perTask = nil
	s.perStudent = nil
	s.fetchedAt = nil
}

func (s *StatisticsService) begin(ctx context.Context, kinds ...statKind) (fetchTag, context.Context, func(), error) {
	if err := requireRole(s.roles, models.RoleAdmin); err != nil {
		return fetchTag{}, nil, nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	s.mu.Lock()
	tag := fetchTag{generation: s.generation}
	for _, kind := range kinds {
		s.seq[kind]++
		tag.seq[kind] = s.seq[kind]
	}
	s.loading++
	s.mu.Unlock()
	return tag, ctx, func() {
		s.mu.Lock()
		s.loading--
		s.mu.Unlock()
		cancel()
	}, nil
}

// apply stores the results whose tag is still the latest for their
// statistic.
func (s *StatisticsService) apply(tag fetchTag, updates map[statKind]func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tag.generation != s.generation {
		s.logger.Debug("statistics result dropped after session change")
		return
	}
	applied := false
	for kind, update := range updates {
		if tag.seq[kind] != s.seq[kind] {
			s.logger.Debug("statistics result superseded", zap.Int("kind", int(kind)))
			continue
		}
		update()
		applied = true
	}
	if applied {
		fetched := s.now().UTC()
		s.fetchedAt = &fetched
	}
}
