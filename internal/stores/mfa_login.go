package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	mfaChallengeRecordVersion = 2
	maxFieldLen               = 65535
)

var (
	ErrChallengeNotFound = errors.New("mfa challenge not found")
	ErrChallengeExpired  = errors.New("mfa challenge expired")
	ErrBackend           = errors.New("mfa store backend unavailable")
)

// MFAChallenge is the state held between a password login and its second
// factor. Client fields are carried so the session created on success is
// bound to the device that started the login.
type MFAChallenge struct {
	UserID    string
	DeviceID  string
	IP        string
	UserAgent string
	ExpiresAt int64 // unix ms
	Attempts  uint16
}

// MFAChallengeStore keeps login challenges in Redis with a TTL.
type MFAChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewMFAChallengeStore(redisClient redis.UniversalClient, prefix string, now func() time.Time) *MFAChallengeStore {
	if prefix == "" {
		prefix = "authcore:mfa:c"
	}
	if now == nil {
		now = time.Now
	}
	return &MFAChallengeStore{redis: redisClient, prefix: prefix, now: now}
}

func (s *MFAChallengeStore) key(challengeID string) string {
	return s.prefix + ":" + challengeID
}

func (s *MFAChallengeStore) Save(ctx context.Context, challengeID string, record *MFAChallenge) error {
	ttl := time.UnixMilli(record.ExpiresAt).Sub(s.now())
	if ttl <= 0 {
		return ErrChallengeExpired
	}
	encoded, err := encodeMFAChallenge(record)
	if err != nil {
		return err
	}
	ok, err := s.redis.SetNX(ctx, s.key(challengeID), encoded, ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if !ok {
		return fmt.Errorf("%w: challenge id collision", ErrBackend)
	}
	return nil
}

func (s *MFAChallengeStore) Get(ctx context.Context, challengeID string) (*MFAChallenge, error) {
	data, err := s.redis.Get(ctx, s.key(challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	record, err := decodeMFAChallenge(data)
	if err != nil {
		_, _ = s.redis.Del(ctx, s.key(challengeID)).Result()
		return nil, ErrChallengeNotFound
	}
	if s.now().UnixMilli() >= record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(challengeID)).Result()
		return nil, ErrChallengeExpired
	}
	return record, nil
}

// Consume deletes the challenge and reports whether this caller removed it.
// Of two concurrent consumers exactly one sees true.
func (s *MFAChallengeStore) Consume(ctx context.Context, challengeID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(challengeID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return n > 0, nil
}

// RecordFailure counts a wrong code. Once maxAttempts is reached the
// challenge is deleted and exceeded is true.
func (s *MFAChallengeStore) RecordFailure(ctx context.Context, challengeID string, maxAttempts int) (bool, error) {
	const maxRetries = 4
	key := s.key(challengeID)

	for i := 0; i < maxRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			record, err := decodeMFAChallenge(data)
			if err != nil {
				return err
			}

			ttl := time.UnixMilli(record.ExpiresAt).Sub(s.now())
			record.Attempts++
			if int(record.Attempts) >= maxAttempts || ttl <= 0 {
				exceeded = int(record.Attempts) >= maxAttempts
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				if !exceeded {
					return ErrChallengeExpired
				}
				return nil
			}

			updated, err := encodeMFAChallenge(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, ErrChallengeNotFound
			}
			if errors.Is(err, ErrChallengeExpired) {
				return false, err
			}
			return false, fmt.Errorf("%w: %v", ErrBackend, err)
		}
		return exceeded, nil
	}

	return false, fmt.Errorf("%w: challenge update contention", ErrBackend)
}

// MFAEnrollmentStore holds a generated secret until the user proves
// possession with a first code.
type MFAEnrollmentStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewMFAEnrollmentStore(redisClient redis.UniversalClient, prefix string) *MFAEnrollmentStore {
	if prefix == "" {
		prefix = "authcore:mfa:e"
	}
	return &MFAEnrollmentStore{redis: redisClient, prefix: prefix}
}

func (s *MFAEnrollmentStore) Save(ctx context.Context, userID, secretBase32 string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.prefix+":"+userID, secretBase32, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func (s *MFAEnrollmentStore) Get(ctx context.Context, userID string) (string, error) {
	secret, err := s.redis.Get(ctx, s.prefix+":"+userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrChallengeNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return secret, nil
}

func (s *MFAEnrollmentStore) Delete(ctx context.Context, userID string) error {
	if err := s.redis.Del(ctx, s.prefix+":"+userID).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// TOTPReplayGuard lets each TOTP time step be used once per identity.
type TOTPReplayGuard struct {
	redis  redis.UniversalClient
	prefix string
}

func NewTOTPReplayGuard(redisClient redis.UniversalClient, prefix string) *TOTPReplayGuard {
	if prefix == "" {
		prefix = "authcore:mfa:r"
	}
	return &TOTPReplayGuard{redis: redisClient, prefix: prefix}
}

// Claim marks step as used for userID. It returns false if the step was
// already claimed. ttl must cover the verifier's acceptance window.
func (g *TOTPReplayGuard) Claim(ctx context.Context, userID string, step int64, ttl time.Duration) (bool, error) {
	key := g.prefix + ":" + userID + ":" + strconv.FormatInt(step, 10)
	ok, err := g.redis.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return ok, nil
}

func encodeMFAChallenge(record *MFAChallenge) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(mfaChallengeRecordVersion)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	for _, field := range []string{record.UserID, record.DeviceID, record.IP, record.UserAgent} {
		if len(field) > maxFieldLen {
			return nil, errors.New("mfa challenge field length exceeded")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}
	return buf.Bytes(), nil
}

func decodeMFAChallenge(data []byte) (*MFAChallenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != mfaChallengeRecordVersion {
		return nil, errors.New("invalid mfa challenge version")
	}

	record := &MFAChallenge{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	for _, dst := range []*string{&record.UserID, &record.DeviceID, &record.IP, &record.UserAgent} {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(reader, b); err != nil {
			return nil, err
		}
		*dst = string(b)
	}
	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes in mfa challenge")
	}
	if record.UserID == "" {
		return nil, errors.New("mfa challenge missing user id")
	}
	return record, nil
}
