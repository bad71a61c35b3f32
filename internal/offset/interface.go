package offset

import "context"

// Store persists the last-read byte position of tailed files so an agent
// restart resumes where it left off instead of skipping to end-of-file.
type Store interface {
	// Get retrieves the saved position for a file, 0 if none is stored.
	Get(ctx context.Context, filePath string) (uint64, error)

	// Set stores the position for a file.
	Set(ctx context.Context, filePath string, position uint64) error

	// Delete removes the saved position for a file.
	Delete(ctx context.Context, filePath string) error

	// List returns every stored position keyed by file path.
	List(ctx context.Context) (map[string]uint64, error)

	// Close closes the store.
	Close() error
}
