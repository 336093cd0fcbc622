package services

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// acquireLockScript implements the whole reentrancy-lock state machine in one
// atomic step, so two scanners racing for the same invite can never both see
// "unlocked". Branches: unlocked -> grant, same session -> idempotent grant,
// stale holder -> forced takeover, otherwise held.
//
// KEYS[1] = lock key
// ARGV[1] = actor, ARGV[2] = session, ARGV[3] = now (unix ms), ARGV[4] = timeout ms
const acquireLockScript = `
local session = redis.call('HGET', KEYS[1], 'session')
if not session then
  redis.call('HSET', KEYS[1], 'actor', ARGV[1], 'session', ARGV[2], 'acquired_at', ARGV[3])
  redis.call('PEXPIRE', KEYS[1], ARGV[4])
  return {'granted', ARGV[1]}
end
if session == ARGV[2] then
  return {'reacquired', ARGV[1]}
end
local acquiredAt = tonumber(redis.call('HGET', KEYS[1], 'acquired_at') or '0')
if tonumber(ARGV[3]) - acquiredAt >= tonumber(ARGV[4]) then
  redis.call('HSET', KEYS[1], 'actor', ARGV[1], 'session', ARGV[2], 'acquired_at', ARGV[3])
  redis.call('PEXPIRE', KEYS[1], ARGV[4])
  return {'takeover', ARGV[1]}
end
return {'held', redis.call('HGET', KEYS[1], 'actor')}
`

// LockState is the outcome of an acquire attempt.
type LockState struct {
	Granted   bool   `json:"granted"`
	TakenOver bool   `json:"taken_over"`
	Holder    string `json:"holder"` // current holder's actor name on denial
}

// LockSnapshot mirrors the persisted lock hash for diagnostics.
type LockSnapshot struct {
	Actor      string    `json:"actor"`
	Session    string    `json:"session"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// LockService is the reentrancy lock manager for admission commits. Lock
// state lives in Redis, not process memory, so multiple backend instances
// sharing the store agree on ownership. The PEXPIRE on every write is a
// second self-heal layer under the explicit staleness takeover.
type LockService struct {
	Redis *redis.Client
	now   func() time.Time
}

func NewLockService(redisClient *redis.Client) *LockService {
	return &LockService{Redis: redisClient, now: time.Now}
}

func lockKey(eventID, code string) string {
	return fmt.Sprintf("checkin:lock:%s:%s", eventID, code)
}

// Acquire attempts to take the admission lock for one invite. Re-entry from
// the same session is granted (request-flow retries), a stale lock is
// forcibly reassigned, and an active foreign lock is denied naming the
// current holder.
func (s *LockService) Acquire(ctx context.Context, eventID, code, actor, session string, timeout time.Duration) (LockState, error) {
	nowMs := s.now().UnixMilli()

	res, err := s.Redis.Eval(ctx, acquireLockScript,
		[]string{lockKey(eventID, code)},
		actor, session, nowMs, timeout.Milliseconds(),
	).Result()
	if err != nil {
		return LockState{}, fmt.Errorf("acquire checkin lock: %w", err)
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) != 2 {
		return LockState{}, fmt.Errorf("acquire checkin lock: unexpected reply %v", res)
	}

	outcome, _ := reply[0].(string)
	holder, _ := reply[1].(string)

	switch outcome {
	case "granted", "reacquired":
		return LockState{Granted: true, Holder: holder}, nil
	case "takeover":
		return LockState{Granted: true, TakenOver: true, Holder: holder}, nil
	default:
		return LockState{Granted: false, Holder: holder}, nil
	}
}

// Release clears the lock. Idempotent and always succeeds; the admission
// flow must call this on every exit path.
func (s *LockService) Release(ctx context.Context, eventID, code string) error {
	if err := s.Redis.Del(ctx, lockKey(eventID, code)).Err(); err != nil {
		return fmt.Errorf("release checkin lock: %w", err)
	}
	return nil
}

// Holder returns the current lock hash, or nil when unlocked.
func (s *LockService) Holder(ctx context.Context, eventID, code string) (*LockSnapshot, error) {
	vals, err := s.Redis.HGetAll(ctx, lockKey(eventID, code)).Result()
	if err != nil {
		return nil, fmt.Errorf("inspect checkin lock: %w", err)
	}
	if len(vals) == 0 {
		return nil, nil
	}

	snap := &LockSnapshot{
		Actor:   vals["actor"],
		Session: vals["session"],
	}
	var ms int64
	fmt.Sscanf(vals["acquired_at"], "%d", &ms)
	snap.AcquiredAt = time.UnixMilli(ms)
	return snap, nil
}

// ActiveLockCount reports how many admission locks are currently held,
// for the metrics sweep.
func (s *LockService) ActiveLockCount(ctx context.Context) (int, error) {
	keys, err := s.Redis.Keys(ctx, "checkin:lock:*").Result()
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}
