package streams

// Store persists stream records. Every mutation rewrites the whole document.
type Store interface {
	// Load reads the document from storage. A missing document is not an error.
	Load() error
	Get(id string) (StreamRecord, bool)
	List() []StreamRecord
	Put(rec StreamRecord) error
	Delete(id string) error
	// Replace swaps the full set of records.
	Replace(records []StreamRecord) error
}
