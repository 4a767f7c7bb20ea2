package valkey

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	valkeylib "github.com/valkey-io/valkey-go"
)

// Only delete the lock if we still own it
const releaseLockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

const lockRetryWait = 50 * time.Millisecond

var ErrLockTimeout = errors.New("lock acquisition timed out")

// Locker is a cross-node mutex built on SET NX EX. The TTL bounds how long a
// crashed holder can block others.
type Locker struct {
	client *Client
	ttl    time.Duration
}

func NewLocker(client *Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Locker{client: client, ttl: ttl}
}

// Acquire spins until the lock is taken or ctx is done. The returned release
// func is safe to call once; failures to release are only logged.
func (l *Locker) Acquire(ctx context.Context, name string) (func(), error) {
	key := l.client.Key("lock", name)
	token := uuid.NewString()
	inner := l.client.Inner()

	for attempt := 1; ; attempt++ {
		cmd := inner.B().Set().Key(key).Value(token).Nx().Ex(l.ttl).Build()
		err := inner.Do(ctx, cmd).Error()
		if err == nil {
			return func() { l.release(key, token) }, nil
		}
		if !valkeylib.IsValkeyNil(err) {
			logrus.Debugf("[VALKEY] Lock attempt %d on %s failed: %v", attempt, name, err)
		}

		wait := lockRetryWait + time.Duration(rand.Intn(20))*time.Millisecond
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, name, ctx.Err())
		case <-time.After(wait):
		}
	}
}

func (l *Locker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	inner := l.client.Inner()
	cmd := inner.B().Eval().Script(releaseLockScript).Numkeys(1).Key(key).Arg(token).Build()
	if err := inner.Do(ctx, cmd).Error(); err != nil {
		logrus.WithError(err).Warnf("[VALKEY] Failed to release lock %s", key)
	}
}
