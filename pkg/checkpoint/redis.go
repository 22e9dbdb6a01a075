package checkpoint

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"

	"foundry/pkg/proto"
)

// RedisStore is an alternative checkpoint backend for deployments that
// already run Redis. Each run maps to one hash holding the sequence number,
// the serialized state, and its checksum; the pipeline keeps the three
// fields consistent.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis at addr (host:port) and verifies the
// connection with a ping.
func NewRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &RedisStore{client: client, prefix: "foundry:checkpoint:"}, nil
}

func (s *RedisStore) key(runID string) string {
	return s.prefix + runID
}

// Save writes the state and bumps the per-run sequence atomically.
func (s *RedisStore) Save(ctx context.Context, st *proto.RunState) (int64, error) {
	if st == nil || st.RunID == "" {
		return 0, fmt.Errorf("state with run id is required")
	}

	payload, err := json.Marshal(st)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize state for run %s: %w", st.RunID, err)
	}
	sum := blake2b.Sum256(payload)
	checksum := hex.EncodeToString(sum[:])

	var seqCmd *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		seqCmd = pipe.HIncrBy(ctx, s.key(st.RunID), "seq", 1)
		pipe.HSet(ctx, s.key(st.RunID), "state", string(payload), "checksum", checksum)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to write checkpoint for run %s: %w", st.RunID, err)
	}
	return seqCmd.Val(), nil
}

// Load returns the last committed state for the run.
func (s *RedisStore) Load(ctx context.Context, runID string) (*proto.RunState, error) {
	if runID == "" {
		return nil, fmt.Errorf("run id cannot be empty")
	}

	fields, err := s.client.HGetAll(ctx, s.key(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint for run %s: %w", runID, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	payload, ok := fields["state"]
	if !ok {
		return nil, fmt.Errorf("%w: missing state for run %s", ErrCorrupt, runID)
	}
	sum := blake2b.Sum256([]byte(payload))
	if hex.EncodeToString(sum[:]) != fields["checksum"] {
		return nil, fmt.Errorf("%w: checksum mismatch for run %s", ErrCorrupt, runID)
	}

	var st proto.RunState
	if err := json.Unmarshal([]byte(payload), &st); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint for run %s: %w", runID, err)
	}
	return &st, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	return nil
}
