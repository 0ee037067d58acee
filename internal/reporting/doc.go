// Package reporting holds the run report model and its presentation.
//
// A RunReport is built by the orchestrator while a run progresses: one
// StageResult per descriptor with an append-only transition history,
// diagnostics from structural probe failures, the rollback outcome and the
// verification results. RenderReport writes it as text, json, yaml or a
// table. Reporter receives progress updates as they happen; the
// ConsoleReporter logs them to stderr.
package reporting
