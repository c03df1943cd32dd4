package natsclient

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/dynbus/errors"
	"github.com/c360/dynbus/pkg/retry"
)

// KV errors
var (
	ErrKVKeyNotFound = stderrors.New("kv: key not found")
)

// KVEntry is one key with its revision
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// KVOptions configures a KVStore
type KVOptions struct {
	Timeout      time.Duration // per operation, 0 for none
	MaxValueSize int
	Retry        retry.Config // applied to Put and Delete on transient errors
}

// DefaultKVOptions returns the options used by NewKVStore
func DefaultKVOptions() KVOptions {
	return KVOptions{
		Timeout:      5 * time.Second,
		MaxValueSize: 1024 * 1024,
		Retry: retry.Config{
			MaxAttempts:  4,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     time.Second,
			Multiplier:   2.0,
			AddJitter:    true,
		},
	}
}

// KVStore wraps a bucket with timeouts, size checks and retries
type KVStore struct {
	bucket  jetstream.KeyValue
	options KVOptions
	logger  Logger
}

// NewKVStore wraps bucket
func (c *Client) NewKVStore(bucket jetstream.KeyValue, opts ...func(*KVOptions)) *KVStore {
	options := DefaultKVOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &KVStore{bucket: bucket, options: options, logger: c.logger}
}

// Bucket returns the bucket name
func (kv *KVStore) Bucket() string { return kv.bucket.Bucket() }

func (kv *KVStore) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if kv.options.Timeout > 0 {
		return context.WithTimeout(ctx, kv.options.Timeout)
	}
	return ctx, func() {}
}

// Get returns the current value of key
func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	if err != nil {
		if IsKVNotFoundError(err) {
			return nil, ErrKVKeyNotFound
		}
		return nil, errors.WrapTransient(err, "KVStore", "Get", "get "+key)
	}
	return &KVEntry{Key: key, Value: entry.Value(), Revision: entry.Revision()}, nil
}

// Put writes value under key, last writer wins
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	if kv.options.MaxValueSize > 0 && len(value) > kv.options.MaxValueSize {
		return 0, errors.WrapInvalid(errors.ErrInvalidData, "KVStore", "Put",
			"store "+key+" larger than the maximum value size")
	}

	rev, err := retry.DoWithResult(ctx, kv.options.Retry, func() (uint64, error) {
		opCtx, cancel := kv.applyTimeout(ctx)
		defer cancel()
		return kv.bucket.Put(opCtx, key, value)
	})
	if err != nil {
		return 0, errors.WrapTransient(err, "KVStore", "Put", "put "+key)
	}
	kv.logger.Debugf("kv put %s/%s revision %d", kv.Bucket(), key, rev)
	return rev, nil
}

// PutJSON encodes v and writes it under key
func (kv *KVStore) PutJSON(ctx context.Context, key string, v any) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, errors.WrapInvalid(err, "KVStore", "PutJSON", "encode "+key)
	}
	return kv.Put(ctx, key, data)
}

// Delete places a delete marker on key. Deleting a missing key is not an error.
func (kv *KVStore) Delete(ctx context.Context, key string) error {
	err := retry.Do(ctx, kv.options.Retry, func() error {
		opCtx, cancel := kv.applyTimeout(ctx)
		defer cancel()
		err := kv.bucket.Delete(opCtx, key)
		if IsKVNotFoundError(err) {
			return nil
		}
		return err
	})
	if err != nil {
		return errors.WrapTransient(err, "KVStore", "Delete", "delete "+key)
	}
	kv.logger.Debugf("kv delete %s/%s", kv.Bucket(), key)
	return nil
}

// Keys lists the live keys of the bucket
func (kv *KVStore) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	keys, err := kv.bucket.Keys(ctx)
	if stderrors.Is(err, jetstream.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "KVStore", "Keys", "list keys of "+kv.Bucket())
	}
	return keys, nil
}

// Watch streams changes of keys matching pattern, starting with the
// current values. A nil entry marks the end of the initial values.
func (kv *KVStore) Watch(ctx context.Context, pattern string) (jetstream.KeyWatcher, error) {
	w, err := kv.bucket.Watch(ctx, pattern)
	if err != nil {
		return nil, errors.WrapTransient(err, "KVStore", "Watch", "watch "+pattern)
	}
	return w, nil
}

// IsKVNotFoundError reports whether err means the key does not exist
func IsKVNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, ErrKVKeyNotFound) || stderrors.Is(err, jetstream.ErrKeyNotFound) ||
		stderrors.Is(err, jetstream.ErrKeyDeleted) {
		return true
	}
	return strings.Contains(err.Error(), "key not found")
}
