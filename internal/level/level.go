// Package level converts cumulative points into levels and badge tiers.
// Level 1 spans [0, 100) points; each subsequent level requires the previous
// requirement times 1.2, floored to an integer, and thresholds accumulate.
package level

// Progress describes where a points total sits in the level curve.
type Progress struct {
	Level           int
	PointsIntoLevel int
	PointsToNext    int
	Percent         float64
}

const baseRequirement = 100

// Calculate returns the level progress for a cumulative points total.
// Negative input is treated as zero.
func Calculate(points int) Progress {
	if points < 0 {
		points = 0
	}

	level := 1
	req := baseRequirement
	lower := 0
	for points >= lower+req {
		lower += req
		req = req * 12 / 10 // floor(req * 1.2)
		level++
	}

	into := points - lower
	return Progress{
		Level:           level,
		PointsIntoLevel: into,
		PointsToNext:    req - into,
		Percent:         float64(into) / float64(req) * 100,
	}
}

// ThresholdForLevel returns the minimum cumulative points needed to reach
// the given level. Level 1 and below is 0.
func ThresholdForLevel(level int) int {
	total := 0
	req := baseRequirement
	for n := 1; n < level; n++ {
		total += req
		req = req * 12 / 10
	}
	return total
}

// BadgeTier maps a minimum level to a display badge. The table is ordered
// ascending; Badge picks the highest tier the level qualifies for.
type BadgeTier struct {
	MinLevel int
	Name     string
}

var badgeTiers = []BadgeTier{
	{MinLevel: 1, Name: "Beginner"},
	{MinLevel: 3, Name: "Focused"},
	{MinLevel: 5, Name: "Dedicated"},
	{MinLevel: 10, Name: "Scholar"},
	{MinLevel: 20, Name: "Master"},
}

// Badge returns the badge name for a level.
func Badge(level int) string {
	name := badgeTiers[0].Name
	for _, t := range badgeTiers {
		if level >= t.MinLevel {
			name = t.Name
		}
	}
	return name
}
