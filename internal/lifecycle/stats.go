package lifecycle

import (
	"fmt"
	"time"

	"github.com/jomardyan/FlexiFocus/internal/model"
)

const dayLayout = "2006-01-02"

// recordFocus adds one completed focus interval to the rolling statistics.
func recordFocus(stats model.Statistics, durationMs, now int64) model.Statistics {
	today := time.UnixMilli(now).Format(dayLayout)
	if stats.Day != today {
		stats.Day = today
		stats.TodaySessions = 0
		stats.TodayFocusMs = 0
	}
	stats.TodaySessions++
	stats.TodayFocusMs += durationMs
	stats.TotalFocusMs += durationMs

	switch stats.LastActiveDay {
	case today:
	case time.UnixMilli(now).AddDate(0, 0, -1).Format(dayLayout):
		stats.StreakDays++
	default:
		stats.StreakDays = 1
	}
	stats.LastActiveDay = today
	return stats
}

func flowMessage(elapsedMs int64, method model.Method) string {
	minutes := elapsedMs / 60000
	suggested := method.SuggestedBreakMinutes
	if suggested <= 0 {
		return fmt.Sprintf("You focused for %d min.", minutes)
	}
	return fmt.Sprintf("You focused for %d min. Take a %d min break.", minutes, suggested)
}
