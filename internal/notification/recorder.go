package notification

import (
	"context"
	"sync"

	"auth-platform/backend/internal/platform/apperr"
)

// Sent is one notification captured by Recorder.
type Sent struct {
	Email   string
	Message string
}

// Recorder is an in-memory Gateway for tests. Set Fail to make every Notify return a delivery error.
type Recorder struct {
	mu   sync.Mutex
	sent []Sent
	Fail error
}

func (r *Recorder) Notify(_ context.Context, email, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return apperr.Wrap(apperr.ErrNotificationDelivery, r.Fail, "email", email)
	}
	r.sent = append(r.sent, Sent{Email: email, Message: message})
	return nil
}

// SetFail changes the failure mode under the lock.
func (r *Recorder) SetFail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Fail = err
}

// Sent returns a copy of every notification accepted so far.
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}
