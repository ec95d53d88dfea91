package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"pepper/internal/chat"
	"pepper/internal/errx"
	"pepper/internal/logger"
	"pepper/internal/models"
	"pepper/internal/redis"
)

const (
	redisEventChannel = "pepper:chat:events"
	redisStateTTL     = 30 * time.Minute
)

const (
	scopeEvent   = "event"
	scopeSession = "session"
)

// broadcastMessage travels between gateway instances. Events from other
// instances are forwarded to local subscribers; scopeSession drops the local
// copy of a session.
type broadcastMessage struct {
	Instance  string      `json:"instance"`
	Scope     string      `json:"scope"`
	SessionID string      `json:"session_id"`
	Event     *chat.Event `json:"event,omitempty"`
}

type stateRedis struct {
	client *redis.Client

	mu     sync.Mutex
	pubsub *goredis.PubSub
	done   chan struct{}
}

func newStateCache(client *redis.Client) *stateRedis {
	return &stateRedis{client: client}
}

func sessionKey(id string) string { return "pepper:session:" + id }
func historyKey(id string) string { return "pepper:history:" + id }

// startListener subscribes to the broadcast channel.
func (r *stateRedis) startListener(handler func(broadcastMessage)) {
	if r == nil || r.client == nil || handler == nil {
		return
	}
	pubsub := r.client.Subscribe(context.Background(), redisEventChannel)
	if pubsub == nil {
		return
	}
	// wait for the subscription so nothing published afterwards is missed
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	_, err := pubsub.Receive(ctx)
	cancel()
	if err != nil {
		logger.Warn().Err(errx.WrapRedis(err)).Msg("worker subscribe failed")
		pubsub.Close()
		return
	}
	done := make(chan struct{})
	r.mu.Lock()
	r.pubsub = pubsub
	r.done = done
	r.mu.Unlock()

	go func() {
		defer close(done)
		for msg := range pubsub.Channel() {
			var bm broadcastMessage
			if err := json.Unmarshal([]byte(msg.Payload), &bm); err != nil {
				logger.Warn().Err(err).Msg("worker broadcast decode failed")
				continue
			}
			handler(bm)
		}
	}()
}

func (r *stateRedis) stopListener() {
	if r == nil {
		return
	}
	r.mu.Lock()
	pubsub, done := r.pubsub, r.done
	r.pubsub, r.done = nil, nil
	r.mu.Unlock()
	if pubsub == nil {
		return
	}
	if err := pubsub.Close(); err != nil {
		logger.Warn().Err(err).Msg("worker close subscription failed")
	}
	<-done
}

// publish broadcasts msg to every gateway instance.
func (r *stateRedis) publish(msg broadcastMessage) {
	if r == nil || r.client == nil {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		logger.Warn().Err(err).Msg("worker broadcast marshal failed")
		return
	}
	if err := r.client.Publish(context.Background(), redisEventChannel, payload); err != nil {
		logger.Warn().Err(errx.WrapRedis(err)).Msg("worker publish failed")
	}
}

func (r *stateRedis) cacheSession(session *models.Session, history []*models.Message) {
	if r == nil || r.client == nil || session == nil {
		return
	}
	data, err := json.Marshal(session)
	if err != nil {
		logger.Warn().Err(err).Msg("worker session marshal failed")
		return
	}
	if err := r.client.Set(context.Background(), sessionKey(session.ID), data, redisStateTTL); err != nil {
		logger.Warn().Err(errx.WrapRedis(err)).Str("session", session.ID).Msg("worker cache session failed")
	}
	r.cacheHistory(session.ID, history)
}

func (r *stateRedis) cacheHistory(sessionID string, history []*models.Message) {
	if r == nil || r.client == nil || sessionID == "" {
		return
	}
	data, err := json.Marshal(history)
	if err != nil {
		logger.Warn().Err(err).Msg("worker history marshal failed")
		return
	}
	if err := r.client.Set(context.Background(), historyKey(sessionID), data, redisStateTTL); err != nil {
		logger.Warn().Err(errx.WrapRedis(err)).Str("session", sessionID).Msg("worker cache history failed")
	}
}

// loadSession returns the cached session and history; ok is false on any miss.
func (r *stateRedis) loadSession(sessionID string) (*models.Session, []*models.Message, bool) {
	if r == nil || r.client == nil || sessionID == "" {
		return nil, nil, false
	}
	ctx := context.Background()
	rawSession, err := r.client.Get(ctx, sessionKey(sessionID))
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			logger.Warn().Err(errx.WrapRedis(err)).Msg("worker load session failed")
		}
		return nil, nil, false
	}
	var session models.Session
	if err := json.Unmarshal([]byte(rawSession), &session); err != nil {
		logger.Warn().Err(err).Msg("worker decode session failed")
		return nil, nil, false
	}

	rawHistory, err := r.client.Get(ctx, historyKey(sessionID))
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			logger.Warn().Err(errx.WrapRedis(err)).Msg("worker load history failed")
		}
		return nil, nil, false
	}
	var history []*models.Message
	if err := json.Unmarshal([]byte(rawHistory), &history); err != nil {
		logger.Warn().Err(err).Msg("worker decode history failed")
		return nil, nil, false
	}
	return &session, history, true
}

func (r *stateRedis) invalidateSession(sessionID string) {
	if r == nil || r.client == nil || sessionID == "" {
		return
	}
	if err := r.client.Del(context.Background(), sessionKey(sessionID), historyKey(sessionID)); err != nil {
		logger.Warn().Err(errx.WrapRedis(err)).Msg("worker invalidate session failed")
	}
}
