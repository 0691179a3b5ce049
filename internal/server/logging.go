package server

import "log"

func defaultLogf(format string, args ...any) {
	log.Printf(format, args...)
}
