package repository

import "time"

// Resolution is a bar time-aggregation level. All non-base resolutions are
// derived from the 1-minute stream by aggregation.
type Resolution string

const (
	Res1m Resolution = "1m"
	Res2m Resolution = "2m"
	Res3m Resolution = "3m"
	Res5m Resolution = "5m"
)

// BaseResolution is the stream resolution every other one aggregates from.
const BaseResolution = Res1m

// Minutes returns the bucket width, or zero for an unknown resolution.
func (r Resolution) Minutes() int {
	switch r {
	case Res1m:
		return 1
	case Res2m:
		return 2
	case Res3m:
		return 3
	case Res5m:
		return 5
	}
	return 0
}

// Duration returns the bucket width as a time.Duration.
func (r Resolution) Duration() time.Duration {
	return time.Duration(r.Minutes()) * time.Minute
}

// Valid reports whether r is a supported resolution.
func (r Resolution) Valid() bool { return r.Minutes() > 0 }
