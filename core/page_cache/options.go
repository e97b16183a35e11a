package pagecache

// Options configures a MiraPageCache. The zero value is not usable; start
// from DefaultOptions.
type Options struct {
	// HotCapacity is the maximum number of pages in the hot tier.
	HotCapacity int
	// ColdCapacity is the maximum number of pages in the cold tier.
	ColdCapacity int
	// PromotionThreshold is the heat above which a cold page is promoted.
	// Hot pages strictly below it are demotion candidates.
	PromotionThreshold float64
	// PageSize is the fixed page size in bytes.
	PageSize int
	// AdmissionProbability is the probability that a freshly materialized
	// page is admitted directly into the hot tier.
	AdmissionProbability float64
	// ForceMissProbability makes FetchPage pretend the page is not cached
	// and re-read it from disk. Stress-testing knob; leave at 0.
	ForceMissProbability float64
	// Seed seeds the cache-scoped RNG used by the admission policy.
	// Zero selects a time-based seed.
	Seed int64
}

// DefaultOptions returns the standard cache configuration.
func DefaultOptions() Options {
	return Options{
		HotCapacity:          1024,
		ColdCapacity:         3072,
		PromotionThreshold:   3.0,
		PageSize:             4096,
		AdmissionProbability: 0.1,
		ForceMissProbability: 0,
	}
}
