package utils

import (
	"fmt"
	"time"
)

// FormatTVL renders a USD amount in millions, e.g. "12.34M".
func FormatTVL(usd float64) string {
	return fmt.Sprintf("%.2fM", usd/1e6)
}

// FormatLockUp renders a remaining lock-up period as "{d} d {h} h".
func FormatLockUp(d time.Duration) string {
	if d <= 0 {
		return "Unlocked"
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%d d %d h", days, hours)
}
