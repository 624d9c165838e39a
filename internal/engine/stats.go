package engine

import (
	"sort"

	"github.com/ecoloop/ecoloop-server/internal/models"
)

// RankTable is the fixed ordered rank progression, indexed by the highest
// completed level.
var RankTable = []string{
	"Eco Beginner",
	"Climate Champion",
	"Resource Guardian",
	"Green Practitioner",
	"Climate Aware Advocate",
}

// DefaultThemeImpact holds the per-theme impact coefficients added once for
// every completed level of that theme.
var DefaultThemeImpact = map[models.Theme]models.ImpactCoefficients{
	models.ThemeForest:   {CO2: 5.0, Water: 2.0, Waste: 0.5},
	models.ThemeRiver:    {CO2: 1.0, Water: 40.0, Waste: 1.0},
	models.ThemeCity:     {CO2: 2.0, Water: 5.0, Waste: 12.0},
	models.ThemeMountain: {CO2: 8.0, Water: 1.0, Waste: 0.2},
	models.ThemeSky:      {CO2: 15.0, Water: 0.0, Waste: 0.0},
}

// Per-challenge and per-coin impact baselines. Every coin represents
// micro-actions that carry a small estimated impact.
const (
	challengeCO2   = 1.2
	challengeWater = 8.5
	challengeWaste = 0.8

	coinCO2   = 0.05
	coinWater = 0.5
	coinWaste = 0.02
)

// Streak multiplier parameters: +2% per active day, capped at 30 days.
const (
	streakBonusPerDay = 0.02
	streakCapDays     = 30
)

// StreakMultiplier returns the consistency multiplier for a streak of the
// given length, in the range [1.0, 1.6].
func StreakMultiplier(streak int) float64 {
	if streak < 0 {
		streak = 0
	}
	if streak > streakCapDays {
		streak = streakCapDays
	}
	return 1 + float64(streak)*streakBonusPerDay
}

type badgeRule struct {
	badge models.Badge
	holds func(coins, completedLevels, challenges int) bool
}

// badgeRules is the fixed, ordered list of unlock predicates. The default
// badge always holds, so every profile carries at least one badge.
var badgeRules = []badgeRule{
	{
		badge: models.Badge{ID: 0, Name: "Newbie", Icon: "leaf"},
		holds: func(coins, completed, challenges int) bool { return true },
	},
	{
		badge: models.Badge{ID: 1, Name: "Waste Hero", Icon: "recycle"},
		holds: func(coins, completed, challenges int) bool { return coins >= 100 },
	},
	{
		badge: models.Badge{ID: 2, Name: "Water Saver", Icon: "droplets"},
		holds: func(coins, completed, challenges int) bool { return completed >= 2 },
	},
}

// Derive recomputes the profile-facing statistics from scratch. It is a pure
// function of its inputs: no side effects, nothing cached, safe to call
// concurrently from any number of readers.
func Derive(
	user *models.User,
	progress []*models.ProgressRecord,
	completions []models.ChallengeCompletion,
	catalog LevelCatalog,
	themeImpact map[models.Theme]models.ImpactCoefficients,
) models.DerivedProfile {
	if themeImpact == nil {
		themeImpact = DefaultThemeImpact
	}

	completedLevels := 0
	maxLevel := 0
	var co2, water, waste float64

	for _, p := range progress {
		if p.Status != models.ProgressCompleted {
			continue
		}
		completedLevels++
		if p.LevelID > maxLevel {
			maxLevel = p.LevelID
		}
		level, ok := catalog.Level(p.LevelID)
		if !ok {
			continue
		}
		if coeff, ok := themeImpact[level.Theme]; ok {
			co2 += coeff.CO2
			water += coeff.Water
			waste += coeff.Waste
		}
	}
	if maxLevel < 1 {
		maxLevel = 1
	}

	challenges := len(completions)
	co2 += float64(challenges) * challengeCO2
	water += float64(challenges) * challengeWater
	waste += float64(challenges) * challengeWaste

	coins := float64(user.Coins)
	co2 += coins * coinCO2
	water += coins * coinWater
	waste += coins * coinWaste

	mult := StreakMultiplier(user.Streak)
	co2 *= mult
	water *= mult
	waste *= mult

	rankIdx := maxLevel
	if rankIdx > len(RankTable) {
		rankIdx = len(RankTable)
	}

	badges := make([]models.Badge, 0, len(badgeRules))
	for _, rule := range badgeRules {
		if rule.holds(user.Coins, completedLevels, challenges) {
			badges = append(badges, rule.badge)
		}
	}
	sort.Slice(badges, func(i, j int) bool { return badges[i].ID < badges[j].ID })

	return models.DerivedProfile{
		Rank:            RankTable[rankIdx-1],
		MaxLevel:        maxLevel,
		CompletedLevels: completedLevels,
		Badges:          badges,
		Impact:          models.Impact{CO2: co2, Water: water, Waste: waste},
	}
}
