// Package localstate persists small per-user session state (the shared-inbox
// seen set, the friend display-name cache) on the device, so a process
// restart does not resurrect already-acknowledged badges.
package localstate

// Store is the device-local persistence contract. Implementations must
// tolerate concurrent use from the sync layer.
type Store interface {
	// LoadSeen returns the persisted seen item ids for uid; ok is false when
	// nothing was persisted.
	LoadSeen(uid string) (ids []string, ok bool, err error)
	SaveSeen(uid string, ids []string) error
	DeleteSeen(uid string) error

	LoadUsernames(uid string) (names map[string]string, ok bool, err error)
	SaveUsernames(uid string, names map[string]string) error
	DeleteUsernames(uid string) error

	Close() error
}
