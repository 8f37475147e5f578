package boardid

import (
	"testing"

	"hvsupply/platform"
)

func TestReadAllStraps(t *testing.T) {
	for id := uint8(0); id < 4; id++ {
		s := platform.NewSim(id)
		if got := Read(s.ID0, s.ID1); got != id {
			t.Fatalf("id %d read as %d", id, got)
		}
	}
}

func TestFloatingStrapsReadZero(t *testing.T) {
	if got := Read(platform.NewFakePin(10), platform.NewFakePin(11)); got != 0 {
		t.Fatalf("got %d", got)
	}
}
