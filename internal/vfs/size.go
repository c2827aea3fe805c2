package vfs

import "github.com/dustin/go-humanize"

// HumanSize formats the record's display size, e.g. "1.2 kB".
func (r FileRecord) HumanSize() string {
	return humanize.Bytes(uint64(r.SizeBytes()))
}
