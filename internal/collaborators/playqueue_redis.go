package collaborators

import (
	"context"
	"encoding/json"
	"math/rand"

	"github.com/redis/go-redis/v9"
)

// queueRecord is the JSON shape stored at the per-device key, grounded on
// original_source/server/app/services/play_queue_service.py's Redis layout
// (a single hash-like blob rather than that file's two-key split, since the
// mode and index never need to be read independently of the id list here).
type queueRecord struct {
	IDs   []string `json:"ids"`
	Index int      `json:"index"`
	Mode  PlayMode `json:"mode"`
}

// RedisPlayQueueStore is the play-queue store backing §6.2's PlayQueueStore,
// one of the few collaborators detailed enough by the spec's scenarios (S6)
// to warrant a real backend rather than an in-memory stub.
type RedisPlayQueueStore struct {
	client *redis.Client
	prefix string
}

func NewRedisPlayQueueStore(client *redis.Client) *RedisPlayQueueStore {
	return &RedisPlayQueueStore{client: client, prefix: "orchestrator:queue:"}
}

func (r *RedisPlayQueueStore) key(deviceID string) string {
	return r.prefix + deviceID
}

func (r *RedisPlayQueueStore) load(ctx context.Context, deviceID string) (*queueRecord, error) {
	raw, err := r.client.Get(ctx, r.key(deviceID)).Bytes()
	if err == redis.Nil {
		return &queueRecord{Mode: ModeSequential}, nil
	}
	if err != nil {
		return nil, err
	}
	var rec queueRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *RedisPlayQueueStore) save(ctx context.Context, deviceID string, rec *queueRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(deviceID), raw, 0).Err()
}

func (r *RedisPlayQueueStore) SetMode(ctx context.Context, deviceID string, mode PlayMode) error {
	rec, err := r.load(ctx, deviceID)
	if err != nil {
		return err
	}
	rec.Mode = mode
	return r.save(ctx, deviceID, rec)
}

func (r *RedisPlayQueueStore) GetMode(ctx context.Context, deviceID string) (PlayMode, error) {
	rec, err := r.load(ctx, deviceID)
	if err != nil {
		return "", err
	}
	return rec.Mode, nil
}

func (r *RedisPlayQueueStore) SetQueue(ctx context.Context, deviceID string, ids []string, startIndex int) error {
	rec, err := r.load(ctx, deviceID)
	if err != nil {
		return err
	}
	rec.IDs = ids
	rec.Index = startIndex
	return r.save(ctx, deviceID, rec)
}

func (r *RedisPlayQueueStore) AddToQueue(ctx context.Context, deviceID string, ids []string) error {
	rec, err := r.load(ctx, deviceID)
	if err != nil {
		return err
	}
	rec.IDs = append(rec.IDs, ids...)
	return r.save(ctx, deviceID, rec)
}

// GetNext advances the cursor per mode (spec §6.2, scenario S6):
//   - SingleLoop: the cursor never moves, the current id repeats.
//   - Sequential: advances by one; at the end returns ("", false) unless
//     wrap is requested by the caller (e.g. explicit "next" command), in
//     which case it wraps to index 0.
//   - PlaylistLoop: always wraps regardless of the wrap argument.
//   - Shuffle: jumps to a random index other than the current one (if the
//     queue has more than one entry).
func (r *RedisPlayQueueStore) GetNext(ctx context.Context, deviceID string, wrap bool) (string, bool, error) {
	rec, err := r.load(ctx, deviceID)
	if err != nil {
		return "", false, err
	}
	if len(rec.IDs) == 0 {
		return "", false, nil
	}

	switch rec.Mode {
	case ModeSingleLoop:
		return rec.IDs[rec.Index], true, nil
	case ModeShuffle:
		next := r.randomOtherIndex(rec.Index, len(rec.IDs))
		rec.Index = next
		if err := r.save(ctx, deviceID, rec); err != nil {
			return "", false, err
		}
		return rec.IDs[next], true, nil
	case ModePlaylistLoop:
		wrap = true
		fallthrough
	default: // ModeSequential
		next := rec.Index + 1
		if next >= len(rec.IDs) {
			if !wrap {
				return "", false, nil
			}
			next = 0
		}
		rec.Index = next
		if err := r.save(ctx, deviceID, rec); err != nil {
			return "", false, err
		}
		return rec.IDs[next], true, nil
	}
}

// GetPrevious mirrors GetNext in the opposite direction; Sequential refuses
// to go before index 0 unless wrap is set, PlaylistLoop always wraps.
func (r *RedisPlayQueueStore) GetPrevious(ctx context.Context, deviceID string, wrap bool) (string, bool, error) {
	rec, err := r.load(ctx, deviceID)
	if err != nil {
		return "", false, err
	}
	if len(rec.IDs) == 0 {
		return "", false, nil
	}

	switch rec.Mode {
	case ModeSingleLoop:
		return rec.IDs[rec.Index], true, nil
	case ModeShuffle:
		prev := r.randomOtherIndex(rec.Index, len(rec.IDs))
		rec.Index = prev
		if err := r.save(ctx, deviceID, rec); err != nil {
			return "", false, err
		}
		return rec.IDs[prev], true, nil
	case ModePlaylistLoop:
		wrap = true
		fallthrough
	default:
		prev := rec.Index - 1
		if prev < 0 {
			if !wrap {
				return "", false, nil
			}
			prev = len(rec.IDs) - 1
		}
		rec.Index = prev
		if err := r.save(ctx, deviceID, rec); err != nil {
			return "", false, err
		}
		return rec.IDs[prev], true, nil
	}
}

func (r *RedisPlayQueueStore) randomOtherIndex(current, n int) int {
	if n <= 1 {
		return current
	}
	for {
		i := rand.Intn(n)
		if i != current {
			return i
		}
	}
}

func (r *RedisPlayQueueStore) ClearQueue(ctx context.Context, deviceID string) error {
	return r.client.Del(ctx, r.key(deviceID)).Err()
}

func (r *RedisPlayQueueStore) GetQueue(ctx context.Context, deviceID string) ([]string, error) {
	rec, err := r.load(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return rec.IDs, nil
}
