package health

import (
	"fmt"
	"runtime"
	"time"
)

// RegistryStats is what the registry check needs to know
type RegistryStats struct {
	Actors  int
	Clients int
	Closed  bool
}

// RegistryCheck reports the actor registry. A closed registry is unhealthy;
// an empty one is fine.
func RegistryCheck(stats func() RegistryStats) CheckFunc {
	return func() Check {
		s := stats()
		check := Check{
			Name: "registry",
			Details: map[string]any{
				"actors":  s.Actors,
				"clients": s.Clients,
			},
		}

		if s.Closed {
			check.Status = StatusUnhealthy
			check.Message = "Registry closed"
		} else {
			check.Status = StatusHealthy
			check.Message = fmt.Sprintf("%d actors, %d clients", s.Actors, s.Clients)
		}
		return check
	}
}

// GoroutineCheck degrades once more than limit goroutines are running.
// Every actor holds at least one, so a leak shows up here first.
func GoroutineCheck(limit int) CheckFunc {
	return func() Check {
		n := runtime.NumGoroutine()
		check := Check{
			Name:    "goroutines",
			Details: map[string]any{"count": n, "limit": limit},
		}

		if limit > 0 && n > limit {
			check.Status = StatusDegraded
			check.Message = "High goroutine count"
		} else {
			check.Status = StatusHealthy
			check.Message = "Goroutine count normal"
		}
		return check
	}
}

// DrainingCheck fails readiness once the server has begun shutting down, so
// load balancers stop sending new clients
func DrainingCheck(draining func() bool) CheckFunc {
	return func() Check {
		if draining() {
			return Check{Name: "draining", Status: StatusUnhealthy, Message: "Shutting down"}
		}
		return Check{Name: "draining", Status: StatusHealthy, Message: "Accepting connections"}
	}
}

// TransportCheck reports a peer listener that must be serving
func TransportCheck(kind string, serving func() bool) CheckFunc {
	return func() Check {
		check := Check{
			Name:    "transport",
			Details: map[string]any{"kind": kind},
		}
		if serving() {
			check.Status = StatusHealthy
			check.Message = "Peer listener serving"
		} else {
			check.Status = StatusUnhealthy
			check.Message = "Peer listener down"
		}
		return check
	}
}

// CertificateCheck degrades when the serving certificate expires within
// warn and fails once it has expired
func CertificateCheck(notAfter time.Time, warn time.Duration) CheckFunc {
	return func() Check {
		left := time.Until(notAfter)
		check := Check{
			Name:    "certificate",
			Details: map[string]any{"not_after": notAfter.UTC().Format(time.RFC3339)},
		}

		switch {
		case left <= 0:
			check.Status = StatusUnhealthy
			check.Message = "Certificate expired"
		case left < warn:
			check.Status = StatusDegraded
			check.Message = fmt.Sprintf("Certificate expires in %s", left.Round(time.Hour))
		default:
			check.Status = StatusHealthy
			check.Message = "Certificate valid"
		}
		return check
	}
}
