package clock

import "time"

var processStart = time.Now()

func fallbackNow() uint64 {
	return uint64(time.Since(processStart).Nanoseconds())
}
