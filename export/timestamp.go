package export

import (
	"fmt"
	"sync"
	"time"
)

// Timestamp formatting for committer lines: "<epoch> <±HHMM>" with the
// offset applicable to that instant in the author's zone. The zone
// database is consulted in-process; a mutex serializes formatting so the
// zone cache never interleaves with other lookups.

var (
	zoneMu    sync.Mutex
	zoneCache = map[string]*time.Location{}
)

func lookupZone(name string) (*time.Location, error) {
	if loc, ok := zoneCache[name]; ok {
		return loc, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, err
	}
	zoneCache[name] = loc
	return loc, nil
}

// utcOffsetTimestamp renders epoch seconds in the named IANA zone.
// Unknown zones fall back to UTC.
func utcOffsetTimestamp(epoch int64, tz string) string {
	zoneMu.Lock()
	defer zoneMu.Unlock()
	loc, err := lookupZone(tz)
	if err != nil {
		loc = time.UTC
	}
	_, offset := time.Unix(epoch, 0).In(loc).Zone()
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	return fmt.Sprintf("%d %s%02d%02d", epoch, sign, offset/3600, (offset%3600)/60)
}
