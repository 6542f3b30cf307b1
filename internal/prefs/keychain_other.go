//go:build !darwin

package prefs

// NewKeychainStore returns a MemoryStore outside macOS. Secret preferences
// set this way last only as long as the daemon.
func NewKeychainStore() *MemoryStore {
	return NewMemoryStore(nil)
}
