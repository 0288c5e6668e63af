package paymentpoll

import "sync"

// CancellationToken is a cooperative stop signal. It is set at most once and never unset.
type CancellationToken struct {
	once sync.Once
	done chan struct{}
}

func NewCancellationToken() *CancellationToken {
	return &CancellationToken{done: make(chan struct{})}
}

// Cancel sets the token. Only the call that actually set it returns true.
func (t *CancellationToken) Cancel() bool {
	set := false
	t.once.Do(func() {
		close(t.done)
		set = true
	})
	return set
}

func (t *CancellationToken) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done is closed once the token is set
func (t *CancellationToken) Done() <-chan struct{} {
	return t.done
}
