package service

import (
	"context"
	"fmt"
	"lingo_assess_backend/internal/model"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// SubmissionGuard 同一范围的提交在评分期间互斥。
// 只是减少重复评分的优化，冷却期最终由存储层唯一约束保证。
type SubmissionGuard interface {
	// Acquire 拿不到锁时 ok=false；release 总是非 nil
	Acquire(ctx context.Context, scope model.AssessmentScope) (release func(), ok bool, err error)
}

func guardKey(scope model.AssessmentScope) string {
	return fmt.Sprintf("assessment:submit:%d:%s:%s:%s", scope.UserID, scope.Skill, scope.Level, scope.Language)
}

func noopRelease() {}

type RedisGuard struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	return &RedisGuard{Client: client, TTL: ttl}
}

// 只删除自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

func (g *RedisGuard) Acquire(ctx context.Context, scope model.AssessmentScope) (func(), bool, error) {
	key := guardKey(scope)
	token := uuid.NewString()

	ok, err := g.Client.SetNX(ctx, key, token, g.TTL).Result()
	if err != nil {
		return noopRelease, false, err
	}
	if !ok {
		return noopRelease, false, nil
	}

	return func() {
		releaseScript.Run(context.Background(), g.Client, []string{key}, token)
	}, true, nil
}

// LocalGuard 未启用 redis 时的进程内实现
type LocalGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalGuard() *LocalGuard {
	return &LocalGuard{held: make(map[string]struct{})}
}

func (g *LocalGuard) Acquire(_ context.Context, scope model.AssessmentScope) (func(), bool, error) {
	key := guardKey(scope)

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.held[key]; busy {
		return noopRelease, false, nil
	}
	g.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, key)
			g.mu.Unlock()
		})
	}, true, nil
}

// NewSubmissionGuard client 为 nil 时退回进程内锁
func NewSubmissionGuard(client *redis.Client, ttl time.Duration) SubmissionGuard {
	if client == nil {
		return NewLocalGuard()
	}
	return NewRedisGuard(client, ttl)
}
