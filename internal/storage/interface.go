package storage

type StorageEngine interface {
	Put(key, value []byte) error
	// Get returns the stored value. expectedLength is advisory: the read
	// always covers exactly the length recorded at put time.
	Get(key []byte, expectedLength int) ([]byte, error)
	Len() int
	Info() Info
	Stats() map[string]interface{}
	Close() error
}
