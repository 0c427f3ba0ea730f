package memutils

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Statistics describes the memory consumed by one arena or one memory type within
// an arena: how many device allocations back it, how many bytes those allocations
// reserve, and how many of those bytes have been handed out.
type Statistics struct {
	BlockCount int
	BlockBytes int
	UsedBytes  int
}

func (s *Statistics) Clear() {
	s.BlockCount = 0
	s.BlockBytes = 0
	s.UsedBytes = 0
}

func (s *Statistics) Add(other Statistics) {
	s.BlockCount += other.BlockCount
	s.BlockBytes += other.BlockBytes
	s.UsedBytes += other.UsedBytes
}

// PrintJson populates a json object with this structure's data
func (s *Statistics) PrintJson(json *jwriter.ObjectState) {
	json.Name("BlockCount").Int(s.BlockCount)
	json.Name("BlockBytes").Int(s.BlockBytes)
	json.Name("UsedBytes").Int(s.UsedBytes)
}
