package line

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/garyellow/igrelay/internal/r2client"
)

// MediaStore lists and deletes hosted media. *r2client.Client implements it.
type MediaStore interface {
	ListOlderThan(ctx context.Context, prefix string, cutoff time.Time) ([]r2client.Object, error)
	DeleteObject(ctx context.Context, key string) error
}

// CleanupMedia deletes hosted media under prefix last modified before cutoff.
// It keeps going past individual failures and reports them joined.
func CleanupMedia(ctx context.Context, store MediaStore, prefix string, cutoff time.Time) (int, error) {
	objects, err := store.ListOlderThan(ctx, prefix, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list expired media: %w", err)
	}

	var (
		deleted int
		errs    []error
	)
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := store.DeleteObject(ctx, obj.Key); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", obj.Key, err))
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}
