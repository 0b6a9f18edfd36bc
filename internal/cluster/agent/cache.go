package agent

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sentineld/autocracy/internal/decree"
	"github.com/sentineld/autocracy/internal/repository"
)

// Cache is the agent-side decree.Repository: a path-keyed in-memory blob
// store populated entirely by the controller's accept_files/binary-frame
// pushes, never by reading a local filesystem. A path named in accept_files
// joins an ordered queue; the next binary frame received is bound to the
// head of that queue, per spec.md §4.2.
type Cache struct {
	mu      sync.Mutex
	files   map[string][]byte
	pending []string
}

// NewCache returns an empty file cache.
func NewCache() *Cache {
	return &Cache{files: map[string][]byte{}}
}

// Accept appends paths (already normalized by the caller) to the pending
// queue, in the order given.
func (c *Cache) Accept(paths []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, paths...)
}

// Discard removes entries from the cache; it does not touch the pending
// queue, since discard_files targets paths the agent already holds.
func (c *Cache) Discard(paths []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range paths {
		delete(c.files, p)
	}
}

// Bind stores data under the path at the head of the pending queue,
// matching one binary frame to its accept_files entry in arrival order.
// Called from Session.OnBinary, which the protocol guarantees is never
// reentered concurrently with itself.
func (c *Cache) Bind(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return fmt.Errorf("agent: received a binary frame with no pending accept_files path")
	}
	path := c.pending[0]
	c.pending = c.pending[1:]
	c.files[path] = data
	return nil
}

var (
	_ decree.Repository = (*Cache)(nil)
)

// GetFile implements decree.Repository by looking a normalized path up in
// the cache; a path never pushed by the controller is an error, the agent
// has no other source of truth for repository content.
func (c *Cache) GetFile(path string) ([]byte, error) {
	norm := repository.NormalizePath(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.files[norm]
	if !ok {
		return nil, fmt.Errorf("agent: %s: not in local file cache", path)
	}
	return data, nil
}

// GetFiles implements decree.Repository by returning every cached entry
// whose normalized path falls under dir.
func (c *Cache) GetFiles(dir string) (map[string][]byte, error) {
	norm := repository.NormalizePath(dir)
	prefix := norm
	if prefix != "" {
		prefix += "/"
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := map[string][]byte{}
	for p, data := range c.files {
		if prefix == "" || strings.HasPrefix(p, prefix) {
			out[p] = data
		}
	}
	return out, nil
}
