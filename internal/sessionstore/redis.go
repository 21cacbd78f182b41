// Package sessionstore wires the debug API's admin login cookie to a
// Redis-backed session store when a Redis address is configured, falling
// back to gin-contrib/sessions' cookie store (session data kept in the
// signed client cookie) for a no-dependency
// local run. Grounded on the teacher's redis.Client wrapper: same dial/read/
// write timeouts, same startup ping-and-log.
package sessionstore

import (
	"context"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	redisstore "github.com/gin-contrib/sessions/redis"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// New builds a gin-contrib sessions.Store. If addr is empty, a cookie store
// is used (fine for a single-process debug session); otherwise a
// Redis-backed store is built and Redis is pinged once at startup.
func New(log *zap.Logger, addr string, secret []byte) sessions.Store {
	if addr == "" {
		log.Info("session store: using cookie store (no redis addr configured)")
		return cookie.NewStore(secret)
	}

	opts := &goredis.Options{
		Addr:         addr,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
	}
	client := goredis.NewClient(opts)
	pingRedis(log, client, addr)

	store, err := redisstore.NewStoreWithDB(10, "tcp", addr, "", "0", secret)
	if err != nil {
		log.Warn("session store: redis store init failed, falling back to cookie store", zap.Error(err))
		return cookie.NewStore(secret)
	}
	log.Info("session store: using redis", zap.String("addr", addr))
	return store
}

func pingRedis(log *zap.Logger, client *goredis.Client, addr string) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := client.Ping(ctx).Err()
	elapsed := time.Since(start)
	_ = client.Close()

	l := log.Named("sessionstore").With(zap.String("addr", addr), zap.Duration("ping_rtt", elapsed))
	if err != nil {
		l.Warn("redis connection check failed", zap.Error(err))
		return
	}
	l.Info("redis connection established")
}
