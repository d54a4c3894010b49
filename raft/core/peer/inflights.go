package peer

// inFlights is a small sliding window of the indices a leader has sent to
// a peer in Replicate state but not yet had acknowledged. It throttles
// optimistic pipelining so a slow or partitioned peer doesn't accumulate
// unbounded unacknowledged sends.
//
// Adapted from the teacher's raft/core/peer/in_flights.go.
type inFlights struct {
	start int
	count int
	size  int
	buf   []uint64
}

func newInFlights(size int) inFlights {
	return inFlights{size: size, buf: make([]uint64, size)}
}

func (in *inFlights) add(index uint64) {
	if in.full() {
		return
	}
	next := in.start + in.count
	if next >= in.size {
		next -= in.size
	}
	in.buf[next] = index
	in.count++
}

func (in *inFlights) full() bool {
	return in.count == in.size
}

// freeTo frees every in-flight entry up to and including index.
func (in *inFlights) freeTo(index uint64) {
	if in.count == 0 || index < in.buf[in.start] {
		return
	}
	i := in.start
	freed := 0
	for freed < in.count {
		if index < in.buf[i] {
			break
		}
		i++
		freed++
		if i >= in.size {
			i = 0
		}
	}
	in.count -= freed
	in.start = i
}

func (in *inFlights) reset() {
	in.start = 0
	in.count = 0
}
