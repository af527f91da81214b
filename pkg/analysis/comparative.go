package analysis

import (
	"math"
	"sort"
)

// Comparative snapshot statuses.
const (
	StatusInsufficientCorpus = "insufficient_corpus_for_comparative_deviation"
	StatusDeviationComputed  = "comparative_deviation_computed"
)

// Comparable case features.
const (
	FeatureAvgSupportScore = "avg_support_score"
	FeatureClaimRowCount   = "claim_row_count"
)

// CaseFeatures is the deterministic fingerprint of one case's claim rows.
type CaseFeatures struct {
	ClaimRowCount         int            `json:"claim_row_count" validate:"min=0"`
	ClaimTypeDistribution map[string]int `json:"claim_type_distribution"`
	AvgSupportScore       float64        `json:"avg_support_score" validate:"min=0,max=1"`
}

// DeviationFlag reports a case feature far outside the baseline population.
type DeviationFlag struct {
	Feature      string  `json:"feature"`
	Value        float64 `json:"value"`
	BaselineMean float64 `json:"baseline_mean"`
	BaselineStd  float64 `json:"baseline_std"`
	ZScore       float64 `json:"z_score"`
}

// ComparativeSnapshot is the output of the comparative pattern engine.
type ComparativeSnapshot struct {
	Status              string          `json:"status"`
	Version             string          `json:"version"`
	RequiredMinCases    int             `json:"required_min_cases"`
	BaselineCases       int             `json:"baseline_cases"`
	CurrentCaseFeatures CaseFeatures    `json:"current_case_features"`
	DeviationFlags      []DeviationFlag `json:"deviation_flags"`
}

// ExtractFeatures computes the feature snapshot of a case.
func ExtractFeatures(rows []ClaimRow) CaseFeatures {
	f := CaseFeatures{
		ClaimRowCount:         len(rows),
		ClaimTypeDistribution: make(map[string]int),
	}
	if len(rows) == 0 {
		return f
	}
	sum := 0.0
	for _, r := range rows {
		f.ClaimTypeDistribution[string(r.ClaimType)]++
		sum += r.SupportScore
	}
	f.AvgSupportScore = round4(sum / float64(len(rows)))
	return f
}

// ComparePattern snapshots the current case and, only once at least
// RequiredMinCases baselines exist, flags features whose z-score against the
// baselines exceeds DeviationZScore. Below the threshold it never compares.
func ComparePattern(rows []ClaimRow, baselines []CaseFeatures, cfg Config) ComparativeSnapshot {
	snap := ComparativeSnapshot{
		Status:              StatusInsufficientCorpus,
		Version:             cfg.ComparativeVersion,
		RequiredMinCases:    cfg.RequiredMinCases,
		BaselineCases:       len(baselines),
		CurrentCaseFeatures: ExtractFeatures(rows),
		DeviationFlags:      []DeviationFlag{},
	}
	if len(baselines) < cfg.RequiredMinCases {
		return snap
	}

	snap.Status = StatusDeviationComputed
	cur := snap.CurrentCaseFeatures

	features := []struct {
		name  string
		value float64
		of    func(CaseFeatures) float64
	}{
		{FeatureAvgSupportScore, cur.AvgSupportScore, func(c CaseFeatures) float64 { return c.AvgSupportScore }},
		{FeatureClaimRowCount, float64(cur.ClaimRowCount), func(c CaseFeatures) float64 { return float64(c.ClaimRowCount) }},
	}
	for _, feat := range features {
		values := make([]float64, len(baselines))
		for i, b := range baselines {
			values[i] = feat.of(b)
		}
		mean, std := meanStd(values)
		if std == 0 {
			continue
		}
		z := (feat.value - mean) / std
		if math.Abs(z) > cfg.DeviationZScore {
			snap.DeviationFlags = append(snap.DeviationFlags, DeviationFlag{
				Feature:      feat.name,
				Value:        feat.value,
				BaselineMean: round4(mean),
				BaselineStd:  round4(std),
				ZScore:       round4(z),
			})
		}
	}
	sort.Slice(snap.DeviationFlags, func(i, j int) bool {
		return snap.DeviationFlags[i].Feature < snap.DeviationFlags[j].Feature
	})
	return snap
}

// meanStd returns the mean and population standard deviation. Values are
// summed in sorted order so the result does not depend on baseline order.
func meanStd(values []float64) (float64, float64) {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(len(sorted))
	ss := 0.0
	for _, v := range sorted {
		ss += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(ss / float64(len(sorted)))
}
