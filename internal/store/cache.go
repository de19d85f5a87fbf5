package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"todostarter/internal/todo"
)

// ListCache is a read-through Redis cache of each owner's todo list in front
// of another todo.Rows. Any successful write evicts the owner's entry and bumps
// the owner's version; a read only stores its list if the version it saw before
// reading the store is still current. Redis failures are logged and the call
// goes to the wrapped store.
type ListCache struct {
	next   todo.Rows
	client *redis.Client
	ttl    time.Duration
	prefix string
	log    log.FieldLogger
}

func NewListCache(next todo.Rows, client *redis.Client, ttl time.Duration, logger log.FieldLogger) *ListCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &ListCache{
		next:   next,
		client: client,
		ttl:    ttl,
		prefix: "todos:",
		log:    logger.WithField("component", "store.list_cache"),
	}
}

const versionTTL = 24 * time.Hour

var errListChanged = errors.New("list changed while loading")

func (c *ListCache) key(owner todo.Identity) string {
	return c.prefix + owner.UserID
}

func (c *ListCache) versionKey(owner todo.Identity) string {
	return c.prefix + "version:" + owner.UserID
}

func (c *ListCache) SelectTodos(ctx context.Context, owner todo.Identity) ([]todo.Todo, error) {
	key := c.key(owner)
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var items []todo.Todo
		if jsonErr := json.Unmarshal(raw, &items); jsonErr == nil {
			return items, nil
		}
		c.log.WithField("key", key).Warn("discarding undecodable cache entry")
	case !errors.Is(err, redis.Nil):
		c.log.WithError(err).Warn("list cache read failed")
	}

	version, verErr := c.client.Get(ctx, c.versionKey(owner)).Int64()
	if verErr != nil && !errors.Is(verErr, redis.Nil) {
		c.log.WithError(verErr).Warn("list cache version read failed")
	}

	items, err := c.next.SelectTodos(ctx, owner)
	if err != nil {
		return nil, err
	}
	if verErr == nil || errors.Is(verErr, redis.Nil) {
		c.store(ctx, owner, version, items)
	}
	return items, nil
}

// store writes items unless a write has bumped the owner's version since
// version was read.
func (c *ListCache) store(ctx context.Context, owner todo.Identity, version int64, items []todo.Todo) {
	encoded, err := json.Marshal(items)
	if err != nil {
		return
	}
	key, versionKey := c.key(owner), c.versionKey(owner)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, versionKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return errListChanged
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, c.ttl)
			return nil
		})
		return err
	}, versionKey)
	switch {
	case err == nil:
	case errors.Is(err, errListChanged), errors.Is(err, redis.TxFailedErr):
		c.log.WithField("user_id", owner.UserID).Debug("list changed while loading, not cached")
	default:
		c.log.WithError(err).Warn("list cache write failed")
	}
}

func (c *ListCache) InsertTodo(ctx context.Context, owner todo.Identity, row todo.NewRow) (todo.Todo, error) {
	created, err := c.next.InsertTodo(ctx, owner, row)
	if err != nil {
		return todo.Todo{}, err
	}
	c.evict(ctx, owner)
	return created, nil
}

func (c *ListCache) UpdateTodo(ctx context.Context, owner todo.Identity, id string, patch todo.Patch) (todo.Todo, error) {
	updated, err := c.next.UpdateTodo(ctx, owner, id, patch)
	if err != nil {
		return todo.Todo{}, err
	}
	c.evict(ctx, owner)
	return updated, nil
}

func (c *ListCache) DeleteTodo(ctx context.Context, owner todo.Identity, id string) error {
	if err := c.next.DeleteTodo(ctx, owner, id); err != nil {
		return err
	}
	c.evict(ctx, owner)
	return nil
}

func (c *ListCache) DeleteCompletedTodos(ctx context.Context, owner todo.Identity) ([]string, error) {
	ids, err := c.next.DeleteCompletedTodos(ctx, owner)
	if err != nil {
		return nil, err
	}
	c.evict(ctx, owner)
	return ids, nil
}

func (c *ListCache) evict(ctx context.Context, owner todo.Identity) {
	ctx = context.WithoutCancel(ctx)
	versionKey := c.versionKey(owner)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey)
		pipe.Expire(ctx, versionKey, versionTTL)
		pipe.Del(ctx, c.key(owner))
		return nil
	})
	if err != nil {
		c.log.WithError(err).WithField("user_id", owner.UserID).Warn("list cache evict failed")
	}
}
