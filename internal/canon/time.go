package canon

import "time"

func secondsToUTC(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
