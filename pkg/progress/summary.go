package progress

// Summary is the final report of a run.
type Summary struct {
	RunID                   string  `json:"run_id"`
	Total                   int64   `json:"total"`
	Created                 int64   `json:"created"`
	Skipped                 int64   `json:"skipped"`
	SkippedExisting         int64   `json:"skipped_existing"`
	SkippedDuplicate        int64   `json:"skipped_duplicate"`
	Rejected                int64   `json:"rejected"`
	DegradedEnrichmentCount int64   `json:"degraded_enrichment_count"`
	DegradedEmbeddingCount  int64   `json:"degraded_embedding_count"`
	Committed               int64   `json:"committed"`
	NotAttempted            int64   `json:"not_attempted"`
	GraphMirrorFailedChunks int64   `json:"graph_mirror_failed_chunks"`
	ElapsedSeconds          float64 `json:"elapsed_seconds"`
	Rate                    float64 `json:"rate"`
}

// Summary derives the run report from the counters. Rate is processed
// entities per second of wall time. For every run
// Created + Skipped + Rejected + NotAttempted equals Total.
func (t *Tracker) Summary() Summary {
	existing := t.Count(CounterExisting)
	duplicate := t.Count(CounterDuplicate)
	s := Summary{
		RunID:                   t.runID,
		Total:                   t.Snapshot(StageIngest).Total,
		Created:                 t.Count(CounterCreated),
		Skipped:                 existing + duplicate,
		SkippedExisting:         existing,
		SkippedDuplicate:        duplicate,
		Rejected:                t.Count(CounterRejected),
		DegradedEnrichmentCount: t.Count(CounterEnrichmentDegraded),
		DegradedEmbeddingCount:  t.Count(CounterEmbeddingDegraded),
		Committed:               t.Count(CounterCommitted),
		NotAttempted:            t.Count(CounterNotAttempted),
		GraphMirrorFailedChunks: t.Count(CounterMirrorFailed),
		ElapsedSeconds:          t.Elapsed().Seconds(),
	}
	if s.ElapsedSeconds > 0 {
		s.Rate = float64(s.Created+s.Skipped) / s.ElapsedSeconds
	}
	return s
}
