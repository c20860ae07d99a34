package pm

import (
	"context"
	"io"
)

// Vault stores sealed backup artifacts. Data is streamed so a large database
// is never held in memory.
type Vault interface {
	// Put stores an artifact under name, replacing any previous one.
	// size is the number of bytes that will be read from r. version is stored
	// alongside so a set of artifacts written together can be matched up.
	Put(ctx context.Context, name string, r io.Reader, size int64, version int64) error

	// Get writes the named artifact to w. Returns model.ErrNotFound when absent.
	Get(ctx context.Context, name string, w io.Writer) error

	// Version returns the version stored with name, or 0 if nothing is stored.
	Version(ctx context.Context, name string) (int64, error)

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup(ctx context.Context) error
}
