package backup

import (
	"time"

	"github.com/paulschiretz/pgl-dedup/pkg/config"
)

const (
	todayDateTimeLayout = "2006-01-02 15-04-05"
	todayDateLayout     = "2006-01-02"
)

// TodayName builds the name of today's folder as PreText, the formatted
// time and PostText. With style 'none' and no texts the name is empty and
// today's folder is the main folder itself.
func TodayName(t config.TodayConfig, now time.Time) string {
	var middle string
	switch t.Style {
	case config.TodayNone:
	case config.TodayDate:
		middle = now.Format(todayDateLayout)
	default:
		middle = now.Format(todayDateTimeLayout)
	}
	return t.PreText + middle + t.PostText
}
