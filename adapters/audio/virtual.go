package audio

import (
	"sync"
	"time"

	"github.com/satriahrh/arunika/voice/domain/repositories"
)

// VirtualEngine renders the mixer against the wall clock without any sound
// hardware. Used for headless deployments and tests.
type VirtualEngine struct {
	*Mixer
	tick time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

var _ repositories.OutputEngine = (*VirtualEngine)(nil)

// NewVirtualEngine starts a virtual output running at sampleRate
func NewVirtualEngine(sampleRate int) *VirtualEngine {
	e := &VirtualEngine{
		Mixer: NewMixer(sampleRate),
		tick:  10 * time.Millisecond,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *VirtualEngine) run() {
	defer close(e.done)

	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	started := time.Now()
	var rendered int64
	scratch := make([]byte, 0)
	for {
		select {
		case <-e.stop:
			return
		case now := <-ticker.C:
			target := int64(now.Sub(started)) * int64(e.rate) / int64(time.Second)
			need := int(target - rendered)
			if need <= 0 {
				continue
			}
			if cap(scratch) < 2*need {
				scratch = make([]byte, 2*need)
			}
			n, _ := e.Mixer.Read(scratch[:2*need])
			rendered += int64(n / 2)
		}
	}
}

// Close stops the clock
func (e *VirtualEngine) Close() error {
	e.stopOnce.Do(func() { close(e.stop) })
	<-e.done
	return e.Mixer.Close()
}
