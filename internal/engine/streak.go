package engine

import "time"

// NextStreak returns the streak after a login at now, given the previous
// streak and last login. Calendar days are compared in UTC: a login on the
// day after the last one extends the streak, a second login on the same day
// leaves it unchanged, and any gap resets it to one.
func NextStreak(prev int, lastLogin *time.Time, now time.Time) int {
	if lastLogin == nil {
		return 1
	}

	last := lastLogin.UTC()
	today := now.UTC()

	ly, lm, ld := last.Date()
	ty, tm, td := today.Date()
	if ly == ty && lm == tm && ld == td {
		if prev < 1 {
			return 1
		}
		return prev
	}

	lastDay := time.Date(ly, lm, ld, 0, 0, 0, 0, time.UTC)
	todayDay := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	if todayDay.Sub(lastDay) == 24*time.Hour {
		return prev + 1
	}

	return 1
}
