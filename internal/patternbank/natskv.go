package patternbank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/fyrsmithlabs/foundry/internal/request"
)

const (
	patternKeyPrefix = "pattern."
	runKeyPrefix     = "run."
)

// SharedStore is the NATS JetStream key-value Store used when multiple
// orchestrator instances share learned patterns. Keys:
//
//	pattern.{role}.{hash}
//	run.{run_id}
type SharedStore struct {
	nc *nats.Conn
	kv nats.KeyValue
}

// OpenShared connects to NATS and binds (creating if needed) the key-value
// bucket.
func OpenShared(url, bucket string) (*SharedStore, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      bucket,
			Description: "foundry learned patterns and run history",
		})
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("bind bucket %s: %w", bucket, err)
	}

	return &SharedStore{nc: nc, kv: kv}, nil
}

// NewSharedStore wraps an existing bucket. Used by tests running against an
// embedded server.
func NewSharedStore(kv nats.KeyValue) *SharedStore {
	return &SharedStore{kv: kv}
}

func (s *SharedStore) GetPattern(_ context.Context, id string) (*Pattern, error) {
	entry, err := s.kv.Get(patternKeyPrefix + id)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pattern %s: %w", id, err)
	}
	var p Pattern
	if err := json.Unmarshal(entry.Value(), &p); err != nil {
		return nil, fmt.Errorf("decode pattern %s: %w", id, err)
	}
	return &p, nil
}

func (s *SharedStore) PutPattern(_ context.Context, p *Pattern) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode pattern %s: %w", p.ID, err)
	}
	if _, err := s.kv.Put(patternKeyPrefix+p.ID, data); err != nil {
		return fmt.Errorf("put pattern %s: %w", p.ID, err)
	}
	return nil
}

func (s *SharedStore) DeletePattern(_ context.Context, id string) error {
	err := s.kv.Delete(patternKeyPrefix + id)
	if err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("delete pattern %s: %w", id, err)
	}
	return nil
}

func (s *SharedStore) ListPatterns(_ context.Context, role request.Role) ([]*Pattern, error) {
	prefix := patternKeyPrefix
	if role != "" {
		prefix += string(role) + "."
	}

	keys, err := s.kv.Keys()
	if errors.Is(err, nats.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list pattern keys: %w", err)
	}

	var out []*Pattern
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		entry, err := s.kv.Get(key)
		if errors.Is(err, nats.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", key, err)
		}
		var p Pattern
		if err := json.Unmarshal(entry.Value(), &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		out = append(out, &p)
	}
	return out, nil
}

func (s *SharedStore) PutRun(_ context.Context, r *RunRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", r.ID, err)
	}
	if _, err := s.kv.Put(runKeyPrefix+r.ID, data); err != nil {
		return fmt.Errorf("put run %s: %w", r.ID, err)
	}
	return nil
}

func (s *SharedStore) ListRuns(_ context.Context) ([]*RunRecord, error) {
	keys, err := s.kv.Keys()
	if errors.Is(err, nats.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list run keys: %w", err)
	}

	var out []*RunRecord
	for _, key := range keys {
		if !strings.HasPrefix(key, runKeyPrefix) {
			continue
		}
		entry, err := s.kv.Get(key)
		if errors.Is(err, nats.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", key, err)
		}
		var r RunRecord
		if err := json.Unmarshal(entry.Value(), &r); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		out = append(out, &r)
	}
	return out, nil
}

func (s *SharedStore) Close() error {
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}
