package device

// Registry persists registered devices so the engine can auto-reconnect the
// last paired unit across restarts. Implemented by the gorm store.
type Registry interface {
	Upsert(d Descriptor) error
	List() ([]Descriptor, error)
	// Last returns the most recently seen device, or nil when none is known.
	Last() (*Descriptor, error)
	Remove(address string) error
}
