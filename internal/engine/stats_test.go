package engine

import (
	"math"
	"testing"
	"time"

	"github.com/ecoloop/ecoloop-server/internal/models"
)

func TestStreakMultiplier(t *testing.T) {
	tests := []struct {
		streak int
		want   float64
	}{
		{0, 1.0},
		{1, 1.02},
		{10, 1.2},
		{30, 1.6},
		{31, 1.6},
		{100, 1.6},
		{-5, 1.0},
	}

	for _, tt := range tests {
		got := StreakMultiplier(tt.streak)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("StreakMultiplier(%d) = %v, want %v", tt.streak, got, tt.want)
		}
	}
}

func completedRecord(userID string, levelID int) *models.ProgressRecord {
	now := time.Now()
	return &models.ProgressRecord{
		UserID:         userID,
		LevelID:        levelID,
		Status:         models.ProgressCompleted,
		Stage:          models.StageCompleted,
		StagesRewarded: models.StageKeySet{models.StageKeyTaskComplete: true},
		CompletedAt:    &now,
	}
}

func TestDeriveImpactExample(t *testing.T) {
	catalog := fakeCatalog{
		1: {ID: 1, Theme: models.ThemeForest},
		2: {ID: 2, Theme: models.ThemeRiver},
	}
	user := &models.User{ID: "u1", Coins: 150, Streak: 10}
	progress := []*models.ProgressRecord{
		completedRecord("u1", 1),
		completedRecord("u1", 2),
	}
	completions := []models.ChallengeCompletion{
		{ID: "c1", UserID: "u1", CompletedAt: time.Now()},
		{ID: "c2", UserID: "u1", CompletedAt: time.Now()},
	}

	profile := Derive(user, progress, completions, catalog, nil)

	// Pre-multiplier: co2 = 5+1+2*1.2+150*0.05 = 15.9; water = 2+40+2*8.5+150*0.5
	// = 134.0; waste = 0.5+1+2*0.8+150*0.02 = 6.1. Multiplier 1.2.
	wantCO2, wantWater, wantWaste := 19.08, 160.8, 7.32
	if math.Abs(profile.Impact.CO2-wantCO2) > 1e-9 {
		t.Errorf("co2 = %v, want %v", profile.Impact.CO2, wantCO2)
	}
	if math.Abs(profile.Impact.Water-wantWater) > 1e-9 {
		t.Errorf("water = %v, want %v", profile.Impact.Water, wantWater)
	}
	if math.Abs(profile.Impact.Waste-wantWaste) > 1e-9 {
		t.Errorf("waste = %v, want %v", profile.Impact.Waste, wantWaste)
	}

	if profile.CompletedLevels != 2 {
		t.Errorf("completed levels = %d, want 2", profile.CompletedLevels)
	}
	if profile.MaxLevel != 2 {
		t.Errorf("max level = %d, want 2", profile.MaxLevel)
	}
	if profile.Rank != "Climate Champion" {
		t.Errorf("rank = %q, want Climate Champion", profile.Rank)
	}
}

func TestDeriveBadges(t *testing.T) {
	catalog := fakeCatalog{1: {ID: 1, Theme: models.ThemeForest}, 2: {ID: 2, Theme: models.ThemeRiver}}

	// Fresh user: only the default badge.
	fresh := Derive(&models.User{ID: "u1"}, nil, nil, catalog, nil)
	if len(fresh.Badges) != 1 || fresh.Badges[0].Name != "Newbie" {
		t.Fatalf("fresh profile should carry only the default badge, got %v", fresh.Badges)
	}

	// Rich user: all three, sorted by id ascending.
	rich := Derive(
		&models.User{ID: "u2", Coins: 150},
		[]*models.ProgressRecord{completedRecord("u2", 1), completedRecord("u2", 2)},
		nil, catalog, nil,
	)
	if len(rich.Badges) != 3 {
		t.Fatalf("expected 3 badges, got %d", len(rich.Badges))
	}
	for i := 1; i < len(rich.Badges); i++ {
		if rich.Badges[i-1].ID >= rich.Badges[i].ID {
			t.Error("badges must be sorted by id ascending")
		}
	}
}

func TestDeriveDeterministic(t *testing.T) {
	catalog := fakeCatalog{1: {ID: 1, Theme: models.ThemeForest}}
	user := &models.User{ID: "u1", Coins: 42, Streak: 3}
	progress := []*models.ProgressRecord{completedRecord("u1", 1)}

	a := Derive(user, progress, nil, catalog, nil)
	b := Derive(user, progress, nil, catalog, nil)

	if a.Impact != b.Impact || a.Rank != b.Rank || len(a.Badges) != len(b.Badges) {
		t.Error("Derive must be deterministic for identical inputs")
	}
}

func TestDeriveRankBounds(t *testing.T) {
	catalog := fakeCatalog{
		1: {ID: 1, Theme: models.ThemeForest},
		9: {ID: 9, Theme: models.ThemeSky},
	}

	// No completed levels: default level 1, first rank.
	none := Derive(&models.User{ID: "u1"}, nil, nil, catalog, nil)
	if none.MaxLevel != 1 || none.Rank != "Eco Beginner" {
		t.Errorf("empty progress: level=%d rank=%q", none.MaxLevel, none.Rank)
	}

	// Level beyond the table clamps to the last rank.
	high := Derive(&models.User{ID: "u2"}, []*models.ProgressRecord{completedRecord("u2", 9)}, nil, catalog, nil)
	if high.Rank != "Climate Aware Advocate" {
		t.Errorf("rank = %q, want last table entry", high.Rank)
	}
}

func TestDeriveUnknownThemeIgnored(t *testing.T) {
	catalog := fakeCatalog{1: {ID: 1, Theme: models.Theme("swamp")}}
	user := &models.User{ID: "u1"}

	profile := Derive(user, []*models.ProgressRecord{completedRecord("u1", 1)}, nil, catalog, nil)
	if profile.Impact.CO2 != 0 || profile.Impact.Water != 0 || profile.Impact.Waste != 0 {
		t.Errorf("levels with unmapped themes must contribute nothing, got %+v", profile.Impact)
	}
}
