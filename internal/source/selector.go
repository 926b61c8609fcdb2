package source

import (
	"context"
	"fmt"
	"strings"
)

// FindLatest lists bucket/prefix and returns the object with the greatest
// UpdatedAt whose name ends in extension (case-insensitive; "" matches
// everything). Ties go to the lexicographically greatest name. Directory
// markers (names ending in "/") are skipped. With no match it returns
// ErrSourceNotFound.
func FindLatest(ctx context.Context, store Store, bucket, prefix, extension string) (ObjectRef, error) {
	objs, err := store.List(ctx, bucket, prefix)
	if err != nil {
		return ObjectRef{}, fmt.Errorf("source: list %s/%s: %w", bucket, prefix, err)
	}
	best, ok := Latest(objs, extension)
	if !ok {
		return ObjectRef{}, fmt.Errorf("source: %s/%s*%s: %w", bucket, prefix, extension, ErrSourceNotFound)
	}
	return ObjectRef{Bucket: bucket, Name: best.Name}, nil
}

// Latest applies FindLatest's selection rule to an object listing.
func Latest(objs []ObjectInfo, extension string) (ObjectInfo, bool) {
	ext := strings.ToLower(extension)
	var (
		best  ObjectInfo
		found bool
	)
	for _, o := range objs {
		if o.Name == "" || strings.HasSuffix(o.Name, "/") {
			continue
		}
		if ext != "" && !strings.HasSuffix(strings.ToLower(o.Name), ext) {
			continue
		}
		if !found || o.UpdatedAt.After(best.UpdatedAt) ||
			(o.UpdatedAt.Equal(best.UpdatedAt) && o.Name > best.Name) {
			best, found = o, true
		}
	}
	return best, found
}
