package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/vec"
)

// ParticipantPosition is the JSON value stored per participant.
type ParticipantPosition struct {
	Participant string    `json:"participant"`
	Position    vec.Vec3  `json:"position"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	KeyPrefix    string        `yaml:"key_prefix"`
	TTL          time.Duration `yaml:"ttl"`
	BatchSize    int           `yaml:"batch_size"`
	BatchFlushMs int           `yaml:"batch_flush_ms"`
}

// DefaultRedisConfig returns the default settings.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		KeyPrefix:    "voxel:pos:",
		TTL:          24 * time.Hour,
		BatchSize:    100,
		BatchFlushMs: 100,
	}
}

// RedisPositionRepository implements PositionRepo on Redis. Saves are
// buffered and written in pipelined batches; Load sees buffered values.
type RedisPositionRepository struct {
	client      *redis.Client
	keyPrefix   string
	ttl         time.Duration
	batchSize   int
	batchMu     sync.Mutex
	batchBuffer map[string]*ParticipantPosition
	batchTicker *time.Ticker
	shutdown    chan struct{}
	wg          sync.WaitGroup
	logger      *logging.Logger
}

// NewRedisPositionRepository connects to Redis and starts the batch flusher.
func NewRedisPositionRepository(config *RedisConfig) (*RedisPositionRepository, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connect to Redis: %w", err)
	}

	flush := time.Duration(config.BatchFlushMs) * time.Millisecond
	if flush <= 0 {
		flush = 100 * time.Millisecond
	}
	repo := &RedisPositionRepository{
		client:      client,
		keyPrefix:   config.KeyPrefix,
		ttl:         config.TTL,
		batchSize:   config.BatchSize,
		batchBuffer: make(map[string]*ParticipantPosition),
		batchTicker: time.NewTicker(flush),
		shutdown:    make(chan struct{}),
		logger:      logging.GetStorageLogger(),
	}
	repo.wg.Add(1)
	go repo.batchFlusher()

	repo.logger.Info("🔴 Connected to Redis at %s", config.Addr)
	return repo, nil
}

// Save buffers a participant position.
func (r *RedisPositionRepository) Save(ctx context.Context, participant string, pos vec.Vec3) error {
	if err := validateParticipant(participant); err != nil {
		return err
	}
	r.batchMu.Lock()
	r.batchBuffer[participant] = &ParticipantPosition{
		Participant: participant,
		Position:    pos,
		UpdatedAt:   time.Now().UTC(),
	}
	if len(r.batchBuffer) >= r.batchSize {
		batch := r.batchBuffer
		r.batchBuffer = make(map[string]*ParticipantPosition)
		r.batchMu.Unlock()
		return r.flushBatch(ctx, batch)
	}
	r.batchMu.Unlock()
	return nil
}

// Load returns a participant position.
func (r *RedisPositionRepository) Load(ctx context.Context, participant string) (vec.Vec3, bool, error) {
	if err := validateParticipant(participant); err != nil {
		return vec.Vec3{}, false, err
	}
	r.batchMu.Lock()
	if p, ok := r.batchBuffer[participant]; ok {
		r.batchMu.Unlock()
		return p.Position, true, nil
	}
	r.batchMu.Unlock()

	data, err := r.client.Get(ctx, r.keyPrefix+participant).Bytes()
	if errors.Is(err, redis.Nil) {
		return vec.Vec3{}, false, nil
	}
	if err != nil {
		return vec.Vec3{}, false, fmt.Errorf("get position: %w", err)
	}
	var p ParticipantPosition
	if err := json.Unmarshal(data, &p); err != nil {
		return vec.Vec3{}, false, fmt.Errorf("unmarshal position: %w", err)
	}
	return p.Position, true, nil
}

// Delete removes a participant position.
func (r *RedisPositionRepository) Delete(ctx context.Context, participant string) error {
	r.batchMu.Lock()
	delete(r.batchBuffer, participant)
	r.batchMu.Unlock()

	if err := r.client.Del(ctx, r.keyPrefix+participant).Err(); err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	return nil
}

// BatchSave writes several positions in one pipeline.
func (r *RedisPositionRepository) BatchSave(ctx context.Context, positions map[string]vec.Vec3) error {
	batch := make(map[string]*ParticipantPosition, len(positions))
	now := time.Now().UTC()
	for participant, pos := range positions {
		if err := validateParticipant(participant); err != nil {
			return err
		}
		batch[participant] = &ParticipantPosition{Participant: participant, Position: pos, UpdatedAt: now}
	}
	return r.flushBatch(ctx, batch)
}

// Close flushes buffered positions and closes the client.
func (r *RedisPositionRepository) Close() error {
	close(r.shutdown)
	r.wg.Wait()
	r.batchTicker.Stop()

	r.batchMu.Lock()
	batch := r.batchBuffer
	r.batchBuffer = make(map[string]*ParticipantPosition)
	r.batchMu.Unlock()
	if err := r.flushBatch(context.Background(), batch); err != nil {
		r.logger.Error("❌ final position flush: %v", err)
	}
	return r.client.Close()
}

func (r *RedisPositionRepository) batchFlusher() {
	defer r.wg.Done()
	for {
		select {
		case <-r.shutdown:
			return
		case <-r.batchTicker.C:
			r.batchMu.Lock()
			if len(r.batchBuffer) == 0 {
				r.batchMu.Unlock()
				continue
			}
			batch := r.batchBuffer
			r.batchBuffer = make(map[string]*ParticipantPosition)
			r.batchMu.Unlock()

			if err := r.flushBatch(context.Background(), batch); err != nil {
				r.logger.Error("❌ Failed to flush position batch: %v", err)
			}
		}
	}
}

func (r *RedisPositionRepository) flushBatch(ctx context.Context, batch map[string]*ParticipantPosition) error {
	if len(batch) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for participant, pos := range batch {
		data, err := json.Marshal(pos)
		if err != nil {
			return fmt.Errorf("marshal position for %s: %w", participant, err)
		}
		pipe.Set(ctx, r.keyPrefix+participant, data, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("flush positions: %w", err)
	}
	return nil
}
