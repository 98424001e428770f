package metadata

import (
	"strconv"
	"time"
)

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func nowUnix() int64 {
	return time.Now().Unix()
}
