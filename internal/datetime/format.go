// Package datetime renders the current time for instruction payloads in the
// session's language.
package datetime

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// Clock selects 12- or 24-hour time.
type Clock string

const (
	Clock12 Clock = "12"
	Clock24 Clock = "24"
)

type names struct {
	weekdays [7]string
	months   [12]string
}

var supported = []language.Tag{language.English, language.French, language.Spanish, language.German}

var matcher = language.NewMatcher(supported)

var localized = map[language.Tag]names{
	language.English: {
		weekdays: [7]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"},
		months:   [12]string{"January", "February", "March", "April", "May", "June", "July", "August", "September", "October", "November", "December"},
	},
	language.French: {
		weekdays: [7]string{"dimanche", "lundi", "mardi", "mercredi", "jeudi", "vendredi", "samedi"},
		months:   [12]string{"janvier", "février", "mars", "avril", "mai", "juin", "juillet", "août", "septembre", "octobre", "novembre", "décembre"},
	},
	language.Spanish: {
		weekdays: [7]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"},
		months:   [12]string{"enero", "febrero", "marzo", "abril", "mayo", "junio", "julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre"},
	},
	language.German: {
		weekdays: [7]string{"Sonntag", "Montag", "Dienstag", "Mittwoch", "Donnerstag", "Freitag", "Samstag"},
		months:   [12]string{"Januar", "Februar", "März", "April", "Mai", "Juni", "Juli", "August", "September", "Oktober", "November", "Dezember"},
	},
}

// Base returns the supported base language closest to tag, English when none match.
func Base(tag language.Tag) language.Tag {
	_, index, confidence := matcher.Match(tag)
	if confidence == language.No {
		return language.English
	}
	return supported[index]
}

// OrdinalSuffix returns the English ordinal suffix for a day number.
// Examples: 1 -> "st", 2 -> "nd", 3 -> "rd", 4 -> "th", 11 -> "th", 21 -> "st"
func OrdinalSuffix(day int) string {
	lastTwoDigits := day % 100
	if lastTwoDigits >= 11 && lastTwoDigits <= 13 {
		return "th"
	}
	switch day % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	default:
		return "th"
	}
}

// FormatLocalized formats t in timeZone using the month and weekday names of lang.
//
//	en: "Friday, January 24th, 2025 - 2:30 PM"
//	fr: "vendredi 24 janvier 2025 - 14:30"
//
// Returns empty string if the timezone cannot be loaded.
func FormatLocalized(t time.Time, timeZone string, lang language.Tag, clock Clock) string {
	loc, err := time.LoadLocation(timeZone)
	if err != nil {
		return ""
	}
	local := t.In(loc)
	base := Base(lang)
	n := localized[base]

	weekday := n.weekdays[local.Weekday()]
	month := n.months[local.Month()-1]
	day := local.Day()
	year := local.Year()

	if clock == "" {
		clock = Clock24
		if base == language.English {
			clock = Clock12
		}
	}
	timePart := formatClock(local, clock)

	switch base {
	case language.English:
		return fmt.Sprintf("%s, %s %d%s, %d - %s", weekday, month, day, OrdinalSuffix(day), year, timePart)
	case language.German:
		return fmt.Sprintf("%s, %d. %s %d - %s", weekday, day, month, year, timePart)
	case language.Spanish:
		return fmt.Sprintf("%s, %d de %s de %d - %s", weekday, day, month, year, timePart)
	default:
		return fmt.Sprintf("%s %d %s %d - %s", weekday, day, month, year, timePart)
	}
}

func formatClock(t time.Time, clock Clock) string {
	if clock == Clock24 {
		return t.Format("15:04")
	}
	hour := t.Hour()
	period := "AM"
	if hour >= 12 {
		period = "PM"
	}
	if hour == 0 {
		hour = 12
	} else if hour > 12 {
		hour -= 12
	}
	return fmt.Sprintf("%d:%02d %s", hour, t.Minute(), period)
}

// ResolveTimezone validates a configured timezone string, falling back to
// the host zone and finally "UTC".
func ResolveTimezone(configured string) string {
	trimmed := strings.TrimSpace(configured)
	if trimmed != "" {
		if _, err := time.LoadLocation(trimmed); err == nil {
			return trimmed
		}
	}
	if loc := time.Now().Location(); loc != nil && loc.String() != "" && loc.String() != "Local" {
		return loc.String()
	}
	return "UTC"
}
