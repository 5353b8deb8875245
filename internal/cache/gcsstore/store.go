// Package gcsstore keeps tiles as objects in a Google Cloud Storage bucket.
//
// Tile expiry is written as the object's custom time. Reads skip objects past it, and a
// bucket lifecycle rule on daysSinceCustomTime removes them for good.
package gcsstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/tile-seeder/internal/cache"
)

const defaultParallelism = 8

var errNotFound = errors.New("object not found")

// objects is the slice of the bucket API the store needs.
type objects interface {
	// Read returns errNotFound for missing objects.
	Read(ctx context.Context, name string) (data []byte, expires time.Time, err error)
	Write(ctx context.Context, name string, data []byte, expires time.Time) error
	// Delete ignores missing objects.
	Delete(ctx context.Context, name string) error
}

type Store struct {
	client      *storage.Client
	objs        objects
	prefix      string
	parallelism int
	log         *slog.Logger
	now         func() time.Time
}

var _ cache.TileStore = (*Store)(nil)

// New opens a client with application default credentials. STORAGE_EMULATOR_HOST
// points it at an emulator instead.
func New(ctx context.Context, bucket, prefix string, log *slog.Logger) (*Store, error) {
	if bucket == "" {
		return nil, errors.New("gcs bucket name is empty")
	}
	if log == nil {
		log = slog.Default()
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := storage.NewClient(dialCtx)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	s := newStore(bucketObjects{client.Bucket(bucket)}, prefix, log)
	s.client = client
	log.Info("gcs tile store ready", "bucket", bucket, "prefix", s.prefix)
	return s, nil
}

func newStore(objs objects, prefix string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		objs:        objs,
		prefix:      strings.Trim(prefix, "/"),
		parallelism: defaultParallelism,
		log:         log,
		now:         time.Now,
	}
}

func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// objectName maps a tile key onto a slash separated object path.
func (s *Store) objectName(key string) string {
	return path.Join(s.prefix, strings.ReplaceAll(key, ":", "/"))
}

func (s *Store) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	var mu sync.Mutex
	now := s.now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, k := range keys {
		g.Go(func() error {
			data, exp, err := s.objs.Read(gctx, s.objectName(k))
			switch {
			case errors.Is(err, errNotFound):
				return nil
			case err != nil:
				return fmt.Errorf("read %s: %w", k, err)
			case !exp.IsZero() && now.After(exp):
				return nil
			}
			mu.Lock()
			out[k] = data
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) MSetWithTTL(ctx context.Context, kv map[string][]byte, ttl time.Duration) error {
	var exp time.Time
	if ttl > 0 {
		exp = s.now().Add(ttl)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for k, v := range kv {
		g.Go(func() error {
			if err := s.objs.Write(gctx, s.objectName(k), v, exp); err != nil {
				return fmt.Errorf("write %s: %w", k, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, k := range keys {
		g.Go(func() error {
			if err := s.objs.Delete(gctx, s.objectName(k)); err != nil {
				return fmt.Errorf("delete %s: %w", k, err)
			}
			return nil
		})
	}
	return g.Wait()
}

type bucketObjects struct {
	bucket *storage.BucketHandle
}

func (b bucketObjects) Read(ctx context.Context, name string) ([]byte, time.Time, error) {
	obj := b.bucket.Object(name)
	attrs, err := obj.Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, time.Time{}, errNotFound
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	// pin the generation so the bytes match the attrs just read
	r, err := obj.Generation(attrs.Generation).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, time.Time{}, errNotFound
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, time.Time{}, err
	}
	return data, attrs.CustomTime, nil
}

func (b bucketObjects) Write(ctx context.Context, name string, data []byte, expires time.Time) error {
	w := b.bucket.Object(name).NewWriter(ctx)
	w.CustomTime = expires
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("stream to gcs: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize gcs upload: %w", err)
	}
	return nil
}

func (b bucketObjects) Delete(ctx context.Context, name string) error {
	err := b.bucket.Object(name).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return err
}
