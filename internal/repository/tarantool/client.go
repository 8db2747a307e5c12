package tarantool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tarantool/go-tarantool/v2"
)

// Config represents configuration for Tarantool connection
type Config struct {
	Address  string
	User     string
	Password string
	Timeout  time.Duration
}

// Client represents a connection to Tarantool
type Client struct {
	conn   *tarantool.Connection
	config *Config
	mu     sync.RWMutex
	closed bool
}

// NewClient creates a new Tarantool client
func NewClient(ctx context.Context, config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	dialer := tarantool.NetDialer{
		Address:  config.Address,
		User:     config.User,
		Password: config.Password,
	}

	opts := tarantool.Opts{
		Timeout: config.Timeout,
	}

	conn, err := tarantool.Connect(ctx, dialer, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Tarantool: %w", err)
	}

	return &Client{
		conn:   conn,
		config: config,
	}, nil
}

// Close closes the Tarantool connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	return c.conn.Close()
}

// Ping checks if the connection to Tarantool is alive
func (c *Client) Ping() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return fmt.Errorf("client is closed")
	}

	_, err := c.conn.Ping()
	return err
}

// Call executes a server-side Tarantool function
func (c *Client) Call(functionName string, args []interface{}) ([]interface{}, error) {
	req := tarantool.NewCall17Request(functionName).Args(args)
	return c.Do(req)
}

// Do executes an arbitrary Tarantool request
func (c *Client) Do(req tarantool.Request) ([]interface{}, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}

	future := c.conn.Do(req)
	resp, err := future.Get()
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// Helper function for type conversion
func toUint64(val interface{}) uint64 {
	switch v := val.(type) {
	case uint64:
		return v
	case int64:
		return uint64(v)
	case int:
		return uint64(v)
	case int8:
		return uint64(v)
	case int16:
		return uint64(v)
	case int32:
		return uint64(v)
	case uint:
		return uint64(v)
	case uint8:
		return uint64(v)
	case uint16:
		return uint64(v)
	case uint32:
		return uint64(v)
	case float64:
		return uint64(v)
	case float32:
		return uint64(v)
	default:
		return 0
	}
}

// Helper function for payload conversion; Tarantool returns binary fields as
// either string or []byte depending on the field type.
func toBytes(val interface{}) []byte {
	switch v := val.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return nil
	}
}
