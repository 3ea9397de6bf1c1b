package face

import "math"

// DefaultThreshold is the largest (exclusive) distance accepted as a match.
const DefaultThreshold = 0.6

// Recognition is the outcome of matching a query against stored faces.
type Recognition struct {
	ID        string
	Name      string
	Info      string
	ImageName string
	Distance  float64
	Matched   bool
}

// Unknown returns the placeholder recognition used when nothing matches.
func Unknown() Recognition {
	return Recognition{
		Name:      UnknownName,
		Info:      UnknownInfo,
		ImageName: DefaultImage,
		Distance:  math.Inf(1),
	}
}

// Matcher performs a linear nearest-neighbour scan over stored faces.
// Construct it with NewMatcher.
type Matcher struct {
	threshold float64
}

// NewMatcher returns a matcher; a non-positive threshold selects DefaultThreshold.
func NewMatcher(threshold float64) Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Matcher{threshold: threshold}
}

// Threshold reports the configured acceptance threshold.
func (m Matcher) Threshold() float64 {
	return m.threshold
}

// Match returns the closest candidate strictly under the threshold.
// Candidates are visited in order and only a strictly smaller distance
// replaces the current best, so the first of equally close faces wins.
// Candidates with a different dimension than the query are skipped.
func (m Matcher) Match(query Embedding, candidates []Record) Recognition {
	best := Unknown()

	for i := range candidates {
		c := &candidates[i]
		distance, err := EuclideanDistance(query, c.Embedding)
		if err != nil {
			continue
		}
		if distance < m.threshold && distance < best.Distance {
			best = Recognition{
				ID:        c.ID,
				Name:      c.Name,
				Info:      c.Info,
				ImageName: c.ImageName,
				Distance:  distance,
				Matched:   true,
			}
		}
	}
	return best
}
