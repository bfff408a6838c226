package secure

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrEmpty is returned when sealing zero bytes; memguard refuses empty enclaves.
var ErrEmpty = errors.New("secure: cannot seal empty data")

// SecureBuffer provides memory-safe storage for one secret value.
// It wraps memguard.Enclave to encrypt the secret at rest in memory.
type SecureBuffer struct {
	enclave *memguard.Enclave
	size    int
	mu      sync.RWMutex
	// destroyed allows idempotent Destroy() calls and prevents use after destroy
	destroyed bool
}

// NewSecureBuffer seals data into an enclave. memguard wipes the input
// slice, so callers must not reuse it.
func NewSecureBuffer(data []byte) (*SecureBuffer, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	size := len(data)
	return &SecureBuffer{
		enclave: memguard.NewEnclave(data),
		size:    size,
	}, nil
}

// Size returns the length in bytes of the sealed value.
func (s *SecureBuffer) Size() int {
	return s.size
}

// Open decrypts the enclave into a locked buffer. The caller MUST call
// Destroy on the returned buffer when done.
func (s *SecureBuffer) Open() (*memguard.LockedBuffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.destroyed {
		return nil, errors.New("secure: buffer already destroyed")
	}
	return s.enclave.Open()
}

// Destroy drops the enclave. It is idempotent; Open fails afterwards.
func (s *SecureBuffer) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return
	}
	s.enclave = nil
	s.destroyed = true
}

// Opened is a set of unsealed secrets. The string views returned by Values
// point into locked memory and become invalid after Destroy.
type Opened struct {
	locked []*memguard.LockedBuffer
	values []string
}

// OpenAll unseals every buffer. On failure any buffers already opened are
// destroyed before returning.
func OpenAll(bufs []*SecureBuffer) (*Opened, error) {
	o := &Opened{
		locked: make([]*memguard.LockedBuffer, 0, len(bufs)),
		values: make([]string, 0, len(bufs)),
	}
	for _, b := range bufs {
		lb, err := b.Open()
		if err != nil {
			o.Destroy()
			return nil, err
		}
		o.locked = append(o.locked, lb)
		o.values = append(o.values, lb.String())
	}
	return o, nil
}

// Values returns the plaintext views in sealing order.
func (o *Opened) Values() []string {
	return o.values
}

// Destroy wipes all unsealed plaintext.
func (o *Opened) Destroy() {
	for _, lb := range o.locked {
		lb.Destroy()
	}
	o.locked = nil
	o.values = nil
}

// Purge wipes every memguard buffer in the process. Call it on exit.
func Purge() {
	memguard.Purge()
}
