package strategy

// tierBaseDays is the expected time to an outcome for a single item, by tier.
var tierBaseDays = [MaxTier + 1]int{0, 30, 45, 60, 75, 90, 120}

// DaysPerExtraItem is added to a step's duration for each item beyond the first.
const DaysPerExtraItem = 7

// EstimateDays returns the expected duration of a strategy applied to
// itemCount items.
func EstimateDays(tier, itemCount int) int {
	if tier < MinTier {
		tier = MinTier
	}
	if tier > MaxTier {
		tier = MaxTier
	}
	days := tierBaseDays[tier]
	if itemCount > 1 {
		days += (itemCount - 1) * DaysPerExtraItem
	}
	return days
}

// Duration buckets in increasing order. The index is the bucket rank.
var durationBuckets = []struct {
	maxDays int
	label   string
}{
	{14, "1–2 weeks"},
	{28, "2–4 weeks"},
	{60, "1–2 months"},
	{90, "2–3 months"},
	{120, "3–4 months"},
}

const longestBucket = "4+ months"

// DurationBucket renders days as a human estimate such as "1–2 months".
func DurationBucket(days int) string {
	rank := BucketRank(days)
	if rank == len(durationBuckets) {
		return longestBucket
	}
	return durationBuckets[rank].label
}

// BucketRank orders durations by bucket; longer buckets rank higher.
func BucketRank(days int) int {
	for i, b := range durationBuckets {
		if days <= b.maxDays {
			return i
		}
	}
	return len(durationBuckets)
}
