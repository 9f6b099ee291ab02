package usecase

import "time"

// Clock abstracts time for deterministic tests and strict UTC usage.
type Clock interface {
	NowUTC() time.Time
}

// SystemUTC is the production clock.
type SystemUTC struct{}

func (SystemUTC) NowUTC() time.Time {
	return time.Now().UTC()
}

// sessionKey derives the implicit session id: one UTC calendar day per
// sender. A new day starts a fresh context window; there is no explicit
// session-close event.
func sessionKey(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}
