package utils

import (
	"daypass/src/config"
	"daypass/src/types"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/gosimple/slug"
)

func IsProd() bool {
	return config.ApiEnv() == string(types.Production)
}

// timezoneAliases maps the free-text zone names found in site data to IANA
// names.
var timezoneAliases = map[string]string{
	"aest":                   "Australia/Brisbane",
	"aedt":                   "Australia/Sydney",
	"acst":                   "Australia/Darwin",
	"acdt":                   "Australia/Adelaide",
	"awst":                   "Australia/Perth",
	"sydney":                 "Australia/Sydney",
	"melbourne":              "Australia/Melbourne",
	"brisbane":               "Australia/Brisbane",
	"adelaide":               "Australia/Adelaide",
	"perth":                  "Australia/Perth",
	"hobart":                 "Australia/Hobart",
	"darwin":                 "Australia/Darwin",
	"nsw":                    "Australia/Sydney",
	"vic":                    "Australia/Melbourne",
	"qld":                    "Australia/Brisbane",
	"sa":                     "Australia/Adelaide",
	"wa":                     "Australia/Perth",
	"tas":                    "Australia/Hobart",
	"nt":                     "Australia/Darwin",
	"act":                    "Australia/Sydney",
	"australia/nsw":          "Australia/Sydney",
	"australia/victoria":     "Australia/Melbourne",
	"australia/queensland":   "Australia/Brisbane",
	"australia/west":         "Australia/Perth",
	"australia/south":        "Australia/Adelaide",
	"australia/tasmania":     "Australia/Hobart",
	"australia/north":        "Australia/Darwin",
	"new zealand":            "Pacific/Auckland",
	"nz":                     "Pacific/Auckland",
	"utc":                    "UTC",
	"gmt":                    "UTC",
	"z":                      "UTC",
	"australian eastern":     "Australia/Sydney",
	"australia eastern time": "Australia/Sydney",
}

// NormalizeTimezone returns a loadable IANA zone name for tz, falling back to
// config.DEFAULT_TIMEZONE.
func NormalizeTimezone(tz string) string {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return config.DEFAULT_TIMEZONE
	}
	if alias, ok := timezoneAliases[strings.ToLower(tz)]; ok {
		return alias
	}
	if _, err := time.LoadLocation(tz); err == nil && tz != "Local" {
		return tz
	}
	candidate := strings.ReplaceAll(tz, " ", "_")
	if _, err := time.LoadLocation(candidate); err == nil {
		return candidate
	}
	return config.DEFAULT_TIMEZONE
}

// LoadLocation is NormalizeTimezone resolved to a *time.Location.
func LoadLocation(tz string) *time.Location {
	loc, err := time.LoadLocation(NormalizeTimezone(tz))
	if err != nil {
		return time.UTC
	}
	return loc
}

// SlugPath joins slugified names into "org/site/device", skipping empty parts.
func SlugPath(names ...string) string {
	parts := make([]string, 0, len(names))
	for _, n := range names {
		if s := slug.Make(n); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

// StartOfDay returns midnight of the given calendar date in loc.
func StartOfDay(date string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", date, loc)
}
