package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"time"

	"chatwithcode/internal/model"
	"chatwithcode/pkg/log"

	"github.com/go-redis/redis/v8"
)

// WorkspaceLock 保证同一工作区同一时间只有一个 process 在执行。
// Acquire 在锁被占用时立即返回 model.ErrBusy，成功时返回释放函数。
type WorkspaceLock interface {
	Acquire(ctx context.Context, workspace string) (release func(), err error)
}

type memoryWorkspaceLock struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewMemoryWorkspaceLock 创建进程内的工作区锁。
func NewMemoryWorkspaceLock() WorkspaceLock {
	return &memoryWorkspaceLock{held: make(map[string]bool)}
}

func (l *memoryWorkspaceLock) Acquire(_ context.Context, workspace string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[workspace] {
		return nil, model.ErrBusy
	}
	l.held[workspace] = true
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, workspace)
			l.mu.Unlock()
		})
	}, nil
}

const lockPrefix = "chatwithcode:lock:"

// releaseScript 仅当锁仍属于当前持有者时才删除。
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

type redisWorkspaceLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisWorkspaceLock 创建基于 SETNX 的跨实例工作区锁，ttl 到期后锁自动失效。
func NewRedisWorkspaceLock(client *redis.Client, ttl time.Duration) WorkspaceLock {
	return &redisWorkspaceLock{client: client, ttl: ttl}
}

// newOwnerID 生成 hostname:pid:random 形式的持有者标识。
func newOwnerID() string {
	hostname, _ := os.Hostname()
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), hex.EncodeToString(b))
}

func (l *redisWorkspaceLock) Acquire(ctx context.Context, workspace string) (func(), error) {
	key := lockPrefix + workspace
	owner := newOwnerID()
	ok, err := l.client.SetNX(ctx, key, owner, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", workspace, err)
	}
	if !ok {
		return nil, model.ErrBusy
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			// 释放不受请求上下文取消影响
			if err := releaseScript.Run(context.Background(), l.client, []string{key}, owner).Err(); err != nil && err != redis.Nil {
				log.Warnf("[WorkspaceLock] 释放锁失败: %s, err: %v", workspace, err)
			}
		})
	}, nil
}
