// Package retrieve is the resilient retrieval core: one logical search or
// page-visit request becomes a deterministic cascade of alternative
// attempts, with a full account of what was tried and why.
//
// The Service orchestrates the internals: backend registry → fallback
// cascade → query recovery for searches; direct retry → archive snapshots
// for visits; every recovery attempt lands in the ledger.
package retrieve

import (
	"github.com/hazyhaar/relance/retrieve/internal/archive"
	"github.com/hazyhaar/relance/retrieve/internal/backend"
	"github.com/hazyhaar/relance/retrieve/internal/cascade"
	"github.com/hazyhaar/relance/retrieve/internal/health"
	"github.com/hazyhaar/relance/retrieve/internal/ledger"
	"github.com/hazyhaar/relance/retrieve/internal/recover"
	"github.com/hazyhaar/relance/retrieve/internal/visit"
)

// The domain types are defined next to the code that produces them; the
// aliases below are the public vocabulary of the tool and ops surfaces.
// Invariant throughout: an outcome is a success iff it carries non-empty
// hits or content — a structurally-ok empty response is a miss.

// SearchHit is one structural search result.
type SearchHit = backend.SearchHit

// BackendHealth is one backend's self-tracked condition.
type BackendHealth = backend.Health

// AttemptRecord is one backend try within a fallback cascade run.
type AttemptRecord = cascade.AttemptRecord

// CascadeOutcome is the structured result of a fallback cascade run.
type CascadeOutcome = cascade.Outcome

// AlternativeQuery is one rewritten candidate from a recovery strategy.
type AlternativeQuery = recover.Alternative

// RecoveryResult reports one query recovery run.
type RecoveryResult = recover.Result

// Snapshot is an archived copy of a URL at a point in time.
type Snapshot = archive.Snapshot

// VisitOutcome reports one visit recovery run.
type VisitOutcome = visit.Outcome

// VisitAttempt is one try along the visit cascade.
type VisitAttempt = visit.Attempt

// LedgerEntry is one recorded recovery attempt.
type LedgerEntry = ledger.Entry

// LedgerStats is the derived view over the recovery ledger.
type LedgerStats = ledger.Stats

// HealthReport partitions the registry into healthy/degraded/unavailable.
type HealthReport = health.Report

// Validation is the structural quality verdict for one result set.
type Validation = health.Validation
