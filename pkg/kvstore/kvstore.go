package kvstore

import "errors"

var (
	ErrKeyEmpty    = errors.New("kvstore: key is empty")
	ErrKeyNotFound = errors.New("kvstore: key not found")
)

// KVPair is a single key/value entry returned by prefix listings.
type KVPair struct {
	Key   string
	Value []byte
}

// KVStore is the contract shared by the Badger and in-memory backends.
type KVStore interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	List(prefix string) ([]*KVPair, error)
	Close() error
}
