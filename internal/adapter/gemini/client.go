package gemini

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

var ErrNoAPIKey = errors.New("gemini api key not configured")

// KeyProvider supplies the API key for each call, so a key changed in
// settings takes effect without a restart.
type KeyProvider interface {
	APIKey(ctx context.Context) (string, error)
}

// StaticKey is a KeyProvider for a fixed key.
type StaticKey string

func (k StaticKey) APIKey(context.Context) (string, error) {
	if k == "" {
		return "", ErrNoAPIKey
	}
	return string(k), nil
}

// lease is a genai client shared by in-flight calls. A retired lease closes
// its client when the last call releases it.
type lease struct {
	client  *genai.Client
	refs    int
	retired bool
}

// clients holds one genai client per current key and rebuilds it when the
// key changes. Callers release what get hands out.
type clients struct {
	keys        KeyProvider
	opts        []option.ClientOption
	closeClient func(*genai.Client) error

	mu         sync.Mutex
	cur        *lease
	currentKey string
}

func newClients(keys KeyProvider, opts []option.ClientOption) *clients {
	return &clients{
		keys:        keys,
		opts:        opts,
		closeClient: func(cl *genai.Client) error { return cl.Close() },
	}
}

// get returns the client for the current key and a release func that must be
// called once the call using it is done.
func (c *clients) get(ctx context.Context) (*genai.Client, func(), error) {
	key, err := c.keys.APIKey(ctx)
	if err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur == nil || c.currentKey != key {
		opts := append(append([]option.ClientOption{}, c.opts...), option.WithAPIKey(key))
		client, err := genai.NewClient(ctx, opts...)
		if err != nil {
			return nil, nil, err
		}
		c.retire(c.cur)
		c.cur = &lease{client: client}
		c.currentKey = key
	}

	l := c.cur
	l.refs++
	var once sync.Once
	return l.client, func() { once.Do(func() { c.release(l) }) }, nil
}

func (c *clients) release(l *lease) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l.refs--
	if l.retired && l.refs == 0 {
		c.shut(l)
	}
}

// retire must be called with mu held.
func (c *clients) retire(l *lease) {
	if l == nil {
		return
	}
	l.retired = true
	if l.refs == 0 {
		c.shut(l)
	}
}

func (c *clients) shut(l *lease) {
	if err := c.closeClient(l.client); err != nil {
		slog.Warn("failed to close previous genai client", "error", err)
	}
}

// close retires the current client. One still in use is closed by its last
// release.
func (c *clients) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	l := c.cur
	c.cur = nil
	c.currentKey = ""
	if l == nil {
		return nil
	}
	l.retired = true
	if l.refs > 0 {
		return nil
	}
	return c.closeClient(l.client)
}
