package cliapp

import "github.com/dustin/go-humanize"

func humanBytes(n int64) string {
	return humanize.IBytes(uint64(n))
}
