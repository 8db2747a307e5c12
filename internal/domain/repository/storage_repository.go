package repository

import "context"

// ObjectStore provides key/value blob storage with per-object metadata and
// prefix listing. Get returns entity.ErrObjectNotFound when the key does not
// exist; Delete of an absent key is a no-op.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, metadata map[string]string) error
	Get(ctx context.Context, key string) (body []byte, metadata map[string]string, err error)
	Delete(ctx context.Context, key string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}
