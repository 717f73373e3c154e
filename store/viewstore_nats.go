package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/topicviews/errors"
	"github.com/c360/topicviews/pkg/retry"
)

// KVViewStore persists view records in a NATS JetStream key-value bucket.
// View names are arbitrary strings, so keys are the URL-safe base64 encoding
// of the name. Transient KV failures are retried with exponential backoff.
type KVViewStore struct {
	bucket  jetstream.KeyValue
	timeout time.Duration
	retry   retry.Config
}

// KVViewStoreOption configures a KVViewStore
type KVViewStoreOption func(*KVViewStore)

// WithKVTimeout sets the per-attempt timeout (default 5s)
func WithKVTimeout(d time.Duration) KVViewStoreOption {
	return func(s *KVViewStore) { s.timeout = d }
}

// WithKVRetry sets the retry policy for KV operations
func WithKVRetry(cfg retry.Config) KVViewStoreOption {
	return func(s *KVViewStore) { s.retry = cfg }
}

// NewKVViewStore creates a view store over the given bucket
func NewKVViewStore(bucket jetstream.KeyValue, opts ...KVViewStoreOption) *KVViewStore {
	s := &KVViewStore{
		bucket:  bucket,
		timeout: 5 * time.Second,
		retry:   retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *KVViewStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return ctx, func() {}
}

func viewKey(name string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(name))
}

// Save implements ViewStore
func (s *KVViewStore) Save(ctx context.Context, rec ViewRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.WrapInvalid(err, "KVViewStore", "Save", "encode view record")
	}

	err = retry.Do(ctx, s.retry, func() error {
		attemptCtx, cancel := s.withTimeout(ctx)
		defer cancel()
		_, err := s.bucket.Put(attemptCtx, viewKey(rec.Name), data)
		return err
	})
	if err != nil {
		return errors.WrapTransient(err, "KVViewStore", "Save",
			fmt.Sprintf("persist view %q", rec.Name))
	}
	return nil
}

// Load implements ViewStore
func (s *KVViewStore) Load(ctx context.Context) ([]ViewRecord, error) {
	records, err := retry.DoWithResult(ctx, s.retry, func() ([]ViewRecord, error) {
		attemptCtx, cancel := s.withTimeout(ctx)
		defer cancel()
		return s.loadOnce(attemptCtx)
	})
	if err != nil {
		if errors.IsInvalid(err) {
			return nil, err
		}
		return nil, errors.WrapTransient(err, "KVViewStore", "Load", "load view records")
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Sequence < records[j].Sequence })
	return records, nil
}

func (s *KVViewStore) loadOnce(ctx context.Context) ([]ViewRecord, error) {
	keys, err := s.bucket.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, err
	}

	records := make([]ViewRecord, 0, len(keys))
	for _, key := range keys {
		entry, err := s.bucket.Get(ctx, key)
		if err != nil {
			if err == jetstream.ErrKeyNotFound {
				// deleted between Keys and Get
				continue
			}
			return nil, err
		}
		var rec ViewRecord
		if err := json.Unmarshal(entry.Value(), &rec); err != nil {
			// corrupt record, retrying will not help
			return nil, retry.NonRetryable(errors.WrapInvalid(err, "KVViewStore", "Load",
				fmt.Sprintf("decode view key %q", key)))
		}
		records = append(records, rec)
	}
	return records, nil
}

// Delete implements ViewStore
func (s *KVViewStore) Delete(ctx context.Context, name string) error {
	key := viewKey(name)

	err := retry.Do(ctx, s.retry, func() error {
		attemptCtx, cancel := s.withTimeout(ctx)
		defer cancel()

		if _, err := s.bucket.Get(attemptCtx, key); err != nil {
			if err == jetstream.ErrKeyNotFound {
				return retry.NonRetryable(errors.Wrap(errors.ErrViewNotFound, "KVViewStore", "Delete",
					fmt.Sprintf("delete view %q", name)))
			}
			return err
		}
		return s.bucket.Purge(attemptCtx, key)
	})
	if err != nil {
		if errors.Is(err, errors.ErrViewNotFound) {
			return err
		}
		return errors.WrapTransient(err, "KVViewStore", "Delete",
			fmt.Sprintf("delete view %q", name))
	}
	return nil
}
