package curve

// Metrics are values derived from one breaker movement.
type Metrics struct {
	// Travel is the contact travel over time.
	Travel      []float64          `json:"travel"`
	PeakCurrent int                `json:"peakCurrent"`
	Values      map[string]float64 `json:"values,omitempty"`
	Abnormal    bool               `json:"abnormal"`
}

// Analyzer derives metrics from the coil current and angle curves.
type Analyzer func(kind Kind, coil, angle *Series) Metrics

// PassthroughAnalyzer reports the raw angle samples as travel and the coil
// peak. It never flags a curve as abnormal.
func PassthroughAnalyzer(_ Kind, coil, angle *Series) Metrics {
	var m Metrics
	for _, v := range angle.Values() {
		m.Travel = append(m.Travel, float64(v))
	}
	for _, v := range coil.Values() {
		if v > m.PeakCurrent {
			m.PeakCurrent = v
		}
	}
	return m
}
