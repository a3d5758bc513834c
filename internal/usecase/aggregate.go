package usecase

import (
	"time"

	"OrbWatch/internal/domain/models"
	domrepo "OrbWatch/internal/domain/repository"
)

// AggregateBars rolls 1-minute session bars up to the target resolution.
// Buckets align to the clock (OpenTime truncated to the bucket width), so a
// missing minute widens its own bucket instead of shifting every later one.
// The trailing bucket is held back until its final minute has printed, so
// only closed bars reach the detectors.
func AggregateBars(base []models.Bar, res domrepo.Resolution) []models.Bar {
	n := res.Minutes()
	if n <= 1 {
		return base
	}
	width := res.Duration()

	out := make([]models.Bar, 0, len(base)/n)
	var cur *models.Bar
	for i := range base {
		b := base[i]
		start := b.OpenTime.Truncate(width)
		if cur == nil || !cur.OpenTime.Equal(start) {
			if cur != nil {
				out = append(out, *cur)
			}
			cur = &models.Bar{
				Symbol:   b.Symbol,
				OpenTime: start,
				Open:     b.Open,
				High:     b.High,
				Low:      b.Low,
				Close:    b.Close,
				Volume:   b.Volume,
			}
			continue
		}
		if b.High > cur.High {
			cur.High = b.High
		}
		if b.Low < cur.Low {
			cur.Low = b.Low
		}
		cur.Close = b.Close
		cur.Volume += b.Volume
	}
	if cur != nil && base[len(base)-1].OpenTime.Add(time.Minute).Equal(cur.OpenTime.Add(width)) {
		out = append(out, *cur)
	}
	return out
}
