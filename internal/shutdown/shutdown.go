// Package shutdown implements GracefulShutdown: a token the Supervisor uses
// to ask every transport to stop and to wait until each one has
// acknowledged. A counted-semaphore shutdown ("release N permits, await N
// acks") has a direct Go shape: a channel closed once to broadcast "stop"
// to every waiter, paired with a WaitGroup tracking how many holders still
// owe an acknowledgment.
package shutdown

import (
	"sync"
	"time"
)

// GracefulShutdown coordinates cooperative shutdown between one Supervisor
// and any number of transports spawned under it.
type GracefulShutdown struct {
	stop    chan struct{}
	pending sync.WaitGroup
}

// New creates a token with no outstanding holders.
func New() *GracefulShutdown {
	return &GracefulShutdown{stop: make(chan struct{})}
}

// Permit is handed to a transport at spawn time. The transport reads Stop()
// as its signal to begin tearing down, and must call Done() exactly once
// when that teardown completes.
type Permit struct {
	gs *GracefulShutdown
}

// AcquireStopPermit registers a new holder and returns its permit. Must be
// called before Shutdown(), never concurrently racing a Shutdown() call for
// the same holder.
func (g *GracefulShutdown) AcquireStopPermit() Permit {
	g.pending.Add(1)
	return Permit{gs: g}
}

// Stop returns a channel that closes once Shutdown has been called.
func (p Permit) Stop() <-chan struct{} { return p.gs.stop }

// Done acknowledges that this holder has finished tearing down. Declining
// to call it is a bug: Shutdown will hang forever waiting for it.
func (p Permit) Done() { p.gs.pending.Done() }

// Shutdown signals every outstanding permit and blocks until each has
// called Done(). There is no timeout here by design; shutdown is
// cooperative and a transport that never acknowledges is a bug to be
// fixed, not papered over.
func (g *GracefulShutdown) Shutdown() {
	close(g.stop)
	g.pending.Wait()
}

// ShutdownTimeout is the same as Shutdown but gives up waiting after d,
// returning false if some holder never acknowledged. This exists purely as
// an operational safety valve for process supervisors that need a bounded
// exit (e.g. a container runtime's SIGKILL grace period); it does not
// relax the underlying cooperative contract, since a caller that ignores
// the false return is back to a hung process either way.
func (g *GracefulShutdown) ShutdownTimeout(d time.Duration) bool {
	close(g.stop)

	done := make(chan struct{})
	go func() {
		g.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
