package file

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"listingload/internal/source"
)

// DefaultSettle is how long a file must stay quiet before Watch reports it.
const DefaultSettle = 500 * time.Millisecond

// Watch reports objects created or written in the directory holding prefix
// whose names match prefix and extension. Events for the same
// file are debounced by settle. The channel closes when ctx ends.
func (s *Store) Watch(ctx context.Context, bucket, prefix, extension string, settle time.Duration, log *zap.Logger) (<-chan source.ObjectRef, error) {
	if settle <= 0 {
		settle = DefaultSettle
	}
	if log == nil {
		log = zap.NewNop()
	}
	sub, base := path.Split(prefix)
	dir := filepath.Join(s.dir(bucket), filepath.FromSlash(sub))
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	ext := strings.ToLower(extension)
	out := make(chan source.ObjectRef)
	fired := make(chan string)

	go func() {
		defer close(out)
		defer w.Close()
		timers := make(map[string]*time.Timer)
		defer func() {
			for _, t := range timers {
				t.Stop()
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				name := filepath.Base(ev.Name)
				if strings.HasPrefix(name, ".") || !strings.HasPrefix(name, base) {
					continue
				}
				if ext != "" && !strings.HasSuffix(strings.ToLower(name), ext) {
					continue
				}
				if t, ok := timers[name]; ok {
					t.Stop()
				}
				timers[name] = time.AfterFunc(settle, func() {
					select {
					case fired <- name:
					case <-ctx.Done():
					}
				})
			case name := <-fired:
				delete(timers, name)
				log.Info("object changed", zap.String("bucket", bucket), zap.String("object", sub+name))
				select {
				case out <- source.ObjectRef{Bucket: bucket, Name: sub + name}:
				case <-ctx.Done():
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("watcher error", zap.Error(err))
			}
		}
	}()
	return out, nil
}
