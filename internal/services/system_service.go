package services

import (
	"context"
	"errors"
	"sync"
	"time"

	domain "github.com/idpfunnel/api/internal/domain"
	"github.com/idpfunnel/api/internal/repositories"
)

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
	// CacheFor reuses a collected report for this long so that frequent readiness probes from
	// several load balancers do not each ping Postgres. Zero disables reuse.
	CacheFor time.Duration
}

type systemService struct {
	healthRepo repositories.HealthRepository
	clock      func() time.Time
	build      BuildInfo
	cacheFor   time.Duration

	mu     sync.Mutex
	last   domain.SystemHealthReport
	lastAt time.Time
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the service behind the readiness endpoint.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	svc := &systemService{
		healthRepo: deps.HealthRepository,
		clock:      func() time.Time { return clock().UTC() },
		build:      deps.Build,
		cacheFor:   deps.CacheFor,
	}
	if svc.build.StartedAt.IsZero() {
		svc.build.StartedAt = svc.clock()
	}
	return svc, nil
}

func (s *systemService) HealthReport(ctx context.Context) (domain.SystemHealthReport, error) {
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cacheFor > 0 && !s.lastAt.IsZero() && now.Sub(s.lastAt) < s.cacheFor {
		report := s.last
		report.Uptime = now.Sub(s.build.StartedAt)
		return report, nil
	}

	report, err := s.healthRepo.Collect(ctx)
	if err != nil {
		return domain.SystemHealthReport{}, err
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}
	if report.Status == "" {
		report.Status = domain.WorstHealthStatus(report.Checks)
	}
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.GeneratedAt = report.GeneratedAt.UTC()
	report.Version = s.build.Version
	report.CommitSHA = s.build.CommitSHA
	report.Environment = s.build.Environment
	report.Uptime = now.Sub(s.build.StartedAt)

	s.last, s.lastAt = report, now
	return report, nil
}
