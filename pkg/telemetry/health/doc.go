// Package health provides health endpoints for "tollgate watch".
//
// # Endpoints
//
//   - /health: Liveness probe. The process is running.
//   - /ready: Readiness probe. An evaluation completed recently and its
//     decision reached the audit trail.
//   - /version: Build information.
//
// # Usage
//
//	tracker := &health.Tracker{}
//	checker := health.New(5 * time.Second)
//	checker.RegisterCheck("audit", tracker.AuditCheck())
//	checker.RegisterCheck("audit_path", health.AuditPathCheck(cfg.Audit.Path))
//	checker.RegisterCheck("evaluation", tracker.FreshnessCheck(maxAge, time.Now))
//
//	mux := http.NewServeMux()
//	health.Register(mux, checker, health.VersionInfo{Version: version})
//
// After each evaluation the watcher calls tracker.Observe.
package health
