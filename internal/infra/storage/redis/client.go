// Package redis implements addrstate.Store and addrstate.Registry on Redis.
//
// Key layout, all under the configured prefix (default "addresswatch"):
//
//	{prefix}:registrations           hash  "{userID}:{address}" -> JSON AddressRecord
//	{prefix}:user:{userID}:active    set   addresses the user actively watches
//	{prefix}:snapshot:{address}      string JSON Snapshot
//	{prefix}:scanconfig:{userID}     hash  interval_ms, quota
package redis

import (
	"context"
	"fmt"

	"github.com/gabapcia/addresswatch/internal/addrstate"

	redis "github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "addresswatch"

type client struct {
	conn   *redis.Client
	prefix string
}

var (
	_ addrstate.Store    = (*client)(nil)
	_ addrstate.Registry = (*client)(nil)
)

// Option configures the client.
type Option func(*client)

// WithKeyPrefix namespaces every key, letting several deployments share a database.
func WithKeyPrefix(prefix string) Option {
	return func(c *client) {
		c.prefix = prefix
	}
}

// Close closes the underlying connection pool.
func (c *client) Close() error {
	return c.conn.Close()
}

// Ping checks the connection.
func (c *client) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx).Err()
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, addr, username, password string, db int, opts ...Option) (*client, error) {
	conn := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: username,
		Password: password,
		DB:       db,
	})

	if err := conn.Ping(ctx).Err(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	c := &client{
		conn:   conn,
		prefix: defaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

func (c *client) key(parts ...any) string {
	k := c.prefix
	for _, p := range parts {
		k += fmt.Sprintf(":%v", p)
	}
	return k
}

func (c *client) registrationsKey() string {
	return c.key("registrations")
}

func (c *client) userActiveKey(userID int64) string {
	return c.key("user", userID, "active")
}

func (c *client) snapshotKey(address string) string {
	return c.key("snapshot", address)
}

func (c *client) scanConfigKey(userID int64) string {
	return c.key("scanconfig", userID)
}

func registrationField(userID int64, address string) string {
	return fmt.Sprintf("%d:%s", userID, address)
}
