package models

// Badge is a derived achievement marker. Badges are never persisted; they are
// recomputed from current state on every profile read.
type Badge struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon"`
}

// Impact is the estimated environmental impact of a user's activity.
// Values are full-precision; rounding is a presentation concern.
type Impact struct {
	CO2   float64 `json:"co2"`   // kg
	Water float64 `json:"water"` // litres
	Waste float64 `json:"waste"` // kg
}

// ImpactCoefficients are the per-theme impact constants added once for every
// completed level of that theme.
type ImpactCoefficients struct {
	CO2   float64 `yaml:"co2" json:"co2"`
	Water float64 `yaml:"water" json:"water"`
	Waste float64 `yaml:"waste" json:"waste"`
}

// DerivedProfile is the profile-facing view computed by the stats aggregator.
type DerivedProfile struct {
	Rank            string  `json:"rank"`
	MaxLevel        int     `json:"max_level"`
	CompletedLevels int     `json:"completed_levels"`
	Badges          []Badge `json:"badges"`
	Impact          Impact  `json:"impact"`
}
