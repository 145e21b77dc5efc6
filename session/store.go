package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when no session record exists (never created,
	// or expired and evicted).
	ErrNotFound = errors.New("session not found")
	// ErrRedisUnavailable wraps every backend failure.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrRevoked is returned by RotateRefresh for a revoked session.
	ErrRevoked = errors.New("session revoked")
	// ErrExpired is returned by RotateRefresh for an expired session.
	ErrExpired = errors.New("session expired")
	// ErrRefreshReuse is returned when the presented refresh hash is not the
	// current one. The session has been revoked by the time it is returned.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrCorrupt is returned for a session hash missing required fields.
	ErrCorrupt = errors.New("session record corrupt")
)

const (
	rotateNotFound int64 = 0
	rotateRevoked  int64 = 1
	rotateExpired  int64 = 2
	rotateReuse    int64 = 3
	rotateRotated  int64 = 4
	rotateCorrupt  int64 = 5
)

const rotateRefreshScript = `
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
  return {0, "", ""}
end

local f = redis.call("HMGET", key, "uid", "did", "state", "exp", "rh")
local uid = f[1]
local did = f[2] or ""
local state = f[3]
local exp = tonumber(f[4])
local rh = f[5]
if not uid or not state or not exp or not rh then
  return {5, "", ""}
end

if state == "revoked" then
  return {1, uid, did}
end
if exp <= tonumber(ARGV[3]) then
  return {2, uid, did}
end

if rh ~= ARGV[1] then
  redis.call("HSET", key, "state", "revoked")
  return {3, uid, did}
end

redis.call("HSET", key, "rh", ARGV[2], "last", ARGV[3])
return {4, uid, did, f[4]}
`

var rotateRefreshLua = redis.NewScript(rotateRefreshScript)

const revokeScript = `
local f = redis.call("HMGET", KEYS[1], "uid", "state")
if not f[1] then
  return {0, ""}
end
if f[2] == "revoked" then
  return {2, f[1]}
end
redis.call("HSET", KEYS[1], "state", "revoked")
return {1, f[1]}
`

var revokeLua = redis.NewScript(revokeScript)

// revokeScript returns {0} for a missing session, {1, uid} after revoking
// and {2, uid} when it was already revoked.
const (
	revokeMissing int64 = 0
	revokeDone    int64 = 1
)

const touchScript = `
if redis.call("HGET", KEYS[1], "state") == "active" then
  redis.call("HSET", KEYS[1], "last", ARGV[1])
  return 1
end
return 0
`

var touchLua = redis.NewScript(touchScript)

// Store is a Redis-backed session store.
//
// Every script touches exactly one session key, so the store runs on Redis
// Cluster. The per-user index lives in a different slot and is maintained
// with separate commands: an index entry may briefly outlive its session,
// and ListForUser prunes such entries.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// Rotation identifies the session owner after a rotation attempt. It is
// populated on success and on reuse detection.
type Rotation struct {
	UserID   string
	DeviceID string
	// ExpiresAt is the session's fixed expiry; set on success only.
	ExpiresAt time.Time
}

// NewStore creates a session [Store]. prefix namespaces every key; now
// overrides the clock and may be nil.
func NewStore(rdb redis.UniversalClient, prefix string, now func() time.Time) *Store {
	if prefix == "" {
		prefix = "authcore:session"
	}
	if now == nil {
		now = time.Now
	}
	return &Store{redis: rdb, prefix: prefix, now: now}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":s:" + sessionID
}

func (s *Store) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}

// Create writes an active session with a TTL equal to its remaining
// lifetime and indexes it under its owner. Writing the same id twice is
// last-writer-wins.
func (s *Store) Create(ctx context.Context, sess Session) error {
	if sess.ID == "" || sess.UserID == "" {
		return errors.New("session requires id and user id")
	}
	ttl := sess.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return ErrExpired
	}
	if sess.State == "" {
		sess.State = StateActive
	}
	if sess.LastActivity.IsZero() {
		sess.LastActivity = sess.IssuedAt
	}

	key := s.key(sess.ID)
	userKey := s.userKey(sess.UserID)
	_, err := s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, encode(sess))
		pipe.PExpire(ctx, key, ttl)
		pipe.SAdd(ctx, userKey, sess.ID)
		pipe.PExpire(ctx, userKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get reads a session regardless of state.
func (s *Store) Get(ctx context.Context, sessionID string) (Session, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return Session{}, ErrNotFound
	}
	return decode(fields)
}

// IsRevoked reports whether tokens bearing sessionID must be rejected. A
// missing, revoked, or expired session is revoked. Backend errors are
// returned and must be treated as revoked by callers.
func (s *Store) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	vals, err := s.redis.HMGet(ctx, s.key(sessionID), "state", "exp").Result()
	if err != nil {
		return true, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	state, _ := vals[0].(string)
	expRaw, _ := vals[1].(string)
	if state == "" || expRaw == "" {
		return true, nil
	}
	if State(state) != StateActive {
		return true, nil
	}
	exp, err := strconv.ParseInt(expRaw, 10, 64)
	if err != nil {
		return true, ErrCorrupt
	}
	return s.now().UnixMilli() >= exp, nil
}

// Revoke marks a session revoked and drops it from its owner's index.
// Revoking a missing or already revoked session is not an error.
func (s *Store) Revoke(ctx context.Context, sessionID string) error {
	res, err := revokeLua.Run(ctx, s.redis, []string{s.key(sessionID)}).Slice()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	_, uid := revokeResult(res)
	if uid == "" {
		return nil
	}
	return s.unindex(ctx, uid, sessionID)
}

// RevokeAllForUser revokes every indexed session of userID and returns how
// many were live. Sessions created concurrently with the call may survive;
// callers that need a hard cut-off also rotate the identity's credentials.
func (s *Store) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.Cmd, len(ids))
	for i, id := range ids {
		cmds[i] = revokeLua.Eval(ctx, pipe, []string{s.key(id)})
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	revoked := 0
	for _, cmd := range cmds {
		res, err := cmd.Slice()
		if err != nil {
			continue
		}
		if code, _ := revokeResult(res); code == revokeDone {
			revoked++
		}
	}
	if err := s.redis.Del(ctx, s.userKey(userID)).Err(); err != nil {
		return revoked, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return revoked, nil
}

func revokeResult(res []interface{}) (int64, string) {
	if len(res) < 2 {
		return revokeMissing, ""
	}
	code, _ := res[0].(int64)
	uid, _ := res[1].(string)
	return code, uid
}

func (s *Store) unindex(ctx context.Context, userID, sessionID string) error {
	if err := s.redis.SRem(ctx, s.userKey(userID), sessionID).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Touch updates last-activity on an active session. Callers treat failures
// as non-fatal.
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	now := strconv.FormatInt(s.now().UnixMilli(), 10)
	if err := touchLua.Run(ctx, s.redis, []string{s.key(sessionID)}, now).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// RotateRefresh swaps presentedHash for nextHash if and only if
// presentedHash is current and the session is active. On mismatch the
// session is revoked and ErrRefreshReuse returned.
func (s *Store) RotateRefresh(ctx context.Context, sessionID, presentedHash, nextHash string) (Rotation, error) {
	res, err := rotateRefreshLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID)},
		presentedHash,
		nextHash,
		strconv.FormatInt(s.now().UnixMilli(), 10),
	).Result()
	if err != nil {
		return Rotation{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := res.([]interface{})
	if !ok || len(parts) < 3 {
		return Rotation{}, fmt.Errorf("%w: invalid rotate script response", ErrRedisUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return Rotation{}, fmt.Errorf("%w: invalid rotate script status", ErrRedisUnavailable)
	}
	uid, _ := parts[1].(string)
	did, _ := parts[2].(string)
	rot := Rotation{UserID: uid, DeviceID: did}

	switch code {
	case rotateRotated:
		if len(parts) > 3 {
			if raw, ok := parts[3].(string); ok {
				if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
					rot.ExpiresAt = time.UnixMilli(ms)
				}
			}
		}
		return rot, nil
	case rotateNotFound:
		return rot, ErrNotFound
	case rotateRevoked:
		return rot, ErrRevoked
	case rotateExpired:
		return rot, ErrExpired
	case rotateReuse:
		// The record is already revoked; a failed index cleanup is left
		// for ListForUser to prune.
		_ = s.unindex(ctx, uid, sessionID)
		return rot, ErrRefreshReuse
	case rotateCorrupt:
		return rot, ErrCorrupt
	default:
		return rot, fmt.Errorf("%w: unknown rotate script status %d", ErrRedisUnavailable, code)
	}
}

// ListForUser returns the owner's active sessions, newest first. Index
// entries whose record is gone are pruned.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]Session, error) {
	userKey := s.userKey(userID)
	ids, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return []Session{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	now := s.now()
	out := make([]Session, 0, len(ids))
	var stale []interface{}
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			stale = append(stale, ids[i])
			continue
		}
		sess, err := decode(fields)
		if err != nil || !sess.Active(now) {
			stale = append(stale, ids[i])
			continue
		}
		out = append(out, sess)
	}
	if len(stale) > 0 {
		_ = s.redis.SRem(ctx, userKey, stale...).Err()
	}

	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}

// Ping reports backend availability and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func encode(sess Session) map[string]interface{} {
	return map[string]interface{}{
		"id":    sess.ID,
		"uid":   sess.UserID,
		"did":   sess.DeviceID,
		"ip":    sess.IP,
		"ua":    sess.UserAgent,
		"iat":   sess.IssuedAt.UnixMilli(),
		"exp":   sess.ExpiresAt.UnixMilli(),
		"last":  sess.LastActivity.UnixMilli(),
		"state": string(sess.State),
		"rh":    sess.RefreshHash,
	}
}

func decode(fields map[string]string) (Session, error) {
	sess := Session{
		ID:          fields["id"],
		UserID:      fields["uid"],
		DeviceID:    fields["did"],
		IP:          fields["ip"],
		UserAgent:   fields["ua"],
		State:       State(fields["state"]),
		RefreshHash: fields["rh"],
	}
	if sess.ID == "" || sess.UserID == "" || sess.State == "" {
		return Session{}, ErrCorrupt
	}

	for name, dst := range map[string]*time.Time{
		"iat":  &sess.IssuedAt,
		"exp":  &sess.ExpiresAt,
		"last": &sess.LastActivity,
	} {
		ms, err := strconv.ParseInt(fields[name], 10, 64)
		if err != nil {
			return Session{}, fmt.Errorf("%w: field %s", ErrCorrupt, name)
		}
		*dst = time.UnixMilli(ms)
	}
	return sess, nil
}
