package domain

import "time"

// Health statuses, ordered from best to worst.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// SystemHealthCheck is the result of probing one dependency.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport is what /readyz renders.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// WorstHealthStatus folds check statuses into an overall status. Unknown values count as
// degraded and an empty set is ok.
func WorstHealthStatus(checks map[string]SystemHealthCheck) string {
	worst := HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case HealthStatusOK, "":
		case HealthStatusError:
			return HealthStatusError
		default:
			worst = HealthStatusDegraded
		}
	}
	return worst
}
