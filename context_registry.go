package modbus

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// contextRegistry tracks the open device carriers (TCP sockets, serial
// ports) the engine currently owns, keyed by an opaque id handed back to
// the caller at open time, grounded on Atsika-aznet/aznet.go's
// Listener.conns sync.Map keyed by connection id.
type contextRegistry struct {
	carriers sync.Map // uuid.UUID -> carrierHandle
}

func newContextRegistry() *contextRegistry {
	return &contextRegistry{}
}

// add registers an already-opened carrier and returns its new id.
func (r *contextRegistry) add(c carrierHandle) uuid.UUID {
	id := uuid.New()
	r.carriers.Store(id, c)
	return id
}

// get looks up a previously opened carrier by id.
func (r *contextRegistry) get(id uuid.UUID) (carrierHandle, error) {
	v, ok := r.carriers.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContext, id)
	}
	return v.(carrierHandle), nil
}

// remove forgets a carrier id. The caller is responsible for closing the
// underlying carrier beforehand.
func (r *contextRegistry) remove(id uuid.UUID) {
	r.carriers.Delete(id)
}

// each walks every currently registered carrier, used at Shutdown to
// close them all.
func (r *contextRegistry) each(fn func(uuid.UUID, carrierHandle)) {
	r.carriers.Range(func(k, v any) bool {
		fn(k.(uuid.UUID), v.(carrierHandle))
		return true
	})
}
