package collect

import "time"

const dateLayout = "2006-01-02"

// DateRange is an inclusive merge-date window in YYYY-MM-DD form.
type DateRange struct {
	Since string
	Until string
}

// Today returns the current UTC date as YYYY-MM-DD.
func Today() string {
	return time.Now().UTC().Format(dateLayout)
}

// IsZero reports whether no window is set.
func (r DateRange) IsZero() bool {
	return r.Since == "" && r.Until == ""
}

// String formats the range as used by the GitHub search "merged:" qualifier.
// A single-day range collapses to the date itself.
func (r DateRange) String() string {
	switch {
	case r.IsZero():
		return ""
	case r.Since == r.Until:
		return r.Since
	case r.Until == "":
		return ">=" + r.Since
	default:
		return r.Since + ".." + r.Until
	}
}

// rangeOf returns the min..max calendar dates of the given times in UTC.
func rangeOf(times []time.Time) DateRange {
	var lo, hi time.Time
	for i, t := range times {
		if i == 0 || t.Before(lo) {
			lo = t
		}
		if i == 0 || t.After(hi) {
			hi = t
		}
	}
	if lo.IsZero() {
		return DateRange{}
	}
	return DateRange{Since: lo.UTC().Format(dateLayout), Until: hi.UTC().Format(dateLayout)}
}
