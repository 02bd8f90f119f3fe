// Package objectstore abstracts bucketed blob storage behind the minimal
// contract the core needs: put/get/list/delete under a prefix. Read-after-
// write consistency for new keys and strongly consistent listing are
// assumed, per spec.md §6.
package objectstore

import "context"

// ListPage is one page of a prefix listing.
type ListPage struct {
	Keys       []string
	NextToken  string
	Truncated  bool
}

// Store is the object-store contract consumed by the log reader, the
// columnar writer/reader, and the cleanup operator.
type Store interface {
	// Put writes data to key. A successful Put makes key immediately and
	// fully listable — object storage PUT is all-or-nothing.
	Put(ctx context.Context, key string, data []byte) error
	// Get reads the full contents of key.
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns keys under prefix, paginated via continuation tokens.
	List(ctx context.Context, prefix, continuationToken string) (ListPage, error)
	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
}

// ListAll drains every page of a List call into a single slice. The
// snapshot reader and the orphan sweep both list through it.
func ListAll(ctx context.Context, s Store, prefix string) ([]string, error) {
	var keys []string
	token := ""
	for {
		page, err := s.List(ctx, prefix, token)
		if err != nil {
			return nil, err
		}
		keys = append(keys, page.Keys...)
		if !page.Truncated {
			return keys, nil
		}
		token = page.NextToken
	}
}
