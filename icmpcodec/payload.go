package icmpcodec

import (
	"math/rand"
	"time"

	"github.com/digineo/go-logwrap"
)

var (
	log = &logwrap.Instance{}

	// SetLogger allows updating the Logger. For details, see
	// "github.com/digineo/go-logwrap".Instance.SetLogger.
	SetLogger = log.SetLogger

	// SA1019: rand.Seed has been deprecated, provide a package-local RNG.
	rng = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Payload represents additional data appended to outgoing ICMP Echo
// Requests; Timestamp Requests carry no payload.
type Payload []byte

// Resize assigns a new, zero-filled payload of the given size to p.
func (p *Payload) Resize(size uint16) {
	*p = make(Payload, size)
}

// Randomize fills p's existing payload with pseudo-random bytes, used
// when the random-payload option is set.
func (p *Payload) Randomize() {
	if _, err := rng.Read(*p); err != nil {
		log.Errorf("error randomizing payload: %v", err)
	}
}
