package domain

// ShouldSkipRefresh implements the staleness semantics shared by matching
// (§4.4), the in-process ingest stage (§4.7), and the distributed ingest
// worker (§4.8): data is skipped when daysSinceSync is within
// refreshIntervalDays, or within maxAgeDays. A nil refreshIntervalDays
// means "no minimum interval"; a nil maxAgeDays means "always refresh" —
// both read as "this clause never causes a skip".
func ShouldSkipRefresh(daysSinceSync float64, maxAgeDays, refreshIntervalDays *int) bool {
	if refreshIntervalDays != nil && daysSinceSync < float64(*refreshIntervalDays) {
		return true
	}
	if maxAgeDays != nil && daysSinceSync < float64(*maxAgeDays) {
		return true
	}
	return false
}
