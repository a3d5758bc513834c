package usecase

import "OrbWatch/internal/domain/models"

// Wick thresholds for the three confirmation candle tiers.
const (
	perfectWickMax = 0.15
	flipWickMin    = 0.25
	rejectWickMin  = 0.50
)

// GradeConfirmationBar grades the retest confirmation candle by its wick
// structure. A candle matching no tier is rejected and the chain keeps
// scanning later candles within the retest window.
//
// Tiers: a directional candle with a minimal entry-side wick is "perfect"
// (A+); a directional candle whose entry-side wick is pronounced and at least
// half its body flipped from the other side (A); a counter-color candle
// rejected by a dominant wick (A-).
func GradeConfirmationBar(bar models.Bar, dir models.Direction) models.Grade {
	rng := bar.Range()
	if rng <= 0 {
		return models.GradeReject
	}

	var wick float64
	if dir == models.DirUp {
		if bar.Bullish() {
			wick = bar.Open - bar.Low
		} else {
			wick = bar.Close - bar.Low
		}
	} else {
		if bar.Bullish() {
			wick = bar.High - bar.Close
		} else {
			wick = bar.High - bar.Open
		}
	}
	ratio := wick / rng

	body := bar.Close - bar.Open
	if body < 0 {
		body = -body
	}

	directional := bar.Bullish() == (dir == models.DirUp)
	switch {
	case directional && ratio < perfectWickMax:
		return models.GradeAPlus
	case directional && ratio >= flipWickMin && wick >= body/2:
		return models.GradeA
	case !directional && ratio >= rejectWickMin:
		return models.GradeAMinus
	}
	return models.GradeReject
}

// AdjustGrade applies the alignment checks: both aligned upgrades one notch,
// neither downgrades one notch. An A- with no alignment downgrades to reject.
func AdjustGrade(g models.Grade, vwapOK, volumeOK bool) models.Grade {
	switch {
	case vwapOK && volumeOK:
		return g.Upgrade()
	case !vwapOK && !volumeOK:
		return g.Downgrade()
	}
	return g
}
