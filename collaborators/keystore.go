// Package collaborators defines the narrow interfaces to the external
// collaborators this engine depends on — keystore, persistence, events and
// the bus producer-pool — plus in-memory fakes used by tests, in the
// "test double" idiom of skipper's filters/filtertest and proxy/proxytest
// packages.
package collaborators

import (
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
)

// KeyBundle is the {key, cert, ca} triple returned by the keystore
// collaborator: a client key, its certificate, and named CA entries keyed
// by the id a route's `cert` field references.
type KeyBundle struct {
	Key  []byte
	Cert []byte
	CA   map[string][]byte
}

// Keystore is the external collaborator providing the client key,
// certificate and named CA entries used to secure outbound HTTP routes.
type Keystore interface {
	GetKeystore() (*KeyBundle, error)
}

var errKeystoreUnset = errors.New("keystore: no bundle configured")

// InMemoryKeystore is a fixed in-memory implementation of Keystore, adapted
// from skipper's certregistry — a mutex-guarded lookup, logged on miss —
// generalized here from SNI-cert-by-hostname lookup to CA-entry-by-id
// lookup alongside a single client key/cert pair.
type InMemoryKeystore struct {
	mu     sync.Mutex
	bundle *KeyBundle
}

// NewInMemoryKeystore builds a keystore collaborator seeded with the given
// client key, certificate and CA entries.
func NewInMemoryKeystore(key, cert []byte, ca map[string][]byte) *InMemoryKeystore {
	if ca == nil {
		ca = map[string][]byte{}
	}
	return &InMemoryKeystore{bundle: &KeyBundle{Key: key, Cert: cert, CA: ca}}
}

func (k *InMemoryKeystore) GetKeystore() (*KeyBundle, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.bundle == nil {
		log.Debug("keystore: no bundle configured")
		return nil, errKeystoreUnset
	}
	return k.bundle, nil
}

// Sync replaces the keystore's bundle, mirroring certregistry's SyncCert
// update-in-place semantics for a hot-reloadable keystore.
func (k *InMemoryKeystore) Sync(bundle *KeyBundle) {
	log.Debug("keystore: syncing bundle")
	k.mu.Lock()
	defer k.mu.Unlock()
	k.bundle = bundle
}
