package domain

import "context"

// Catalog returns the names of the databases currently on a server.
type Catalog interface {
	DatabaseNames(ctx context.Context) ([]string, error)
}
