package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// ScriptEntry defines a single scripted response for the ScriptedClient.
type ScriptEntry struct {
	Text string // response content
	Err  error  // returned instead of Text when set

	// BlockUntilCancelled makes Complete block until the context is
	// cancelled, then return ctx.Err(). Used by cancellation tests.
	BlockUntilCancelled bool
	// OnBlock is notified when Complete enters its blocking path.
	OnBlock chan<- struct{}
}

// ScriptedClient implements Client with deterministic scripted responses:
// a sequential script consumed in call order, plus optional routing keyed
// on a substring of the system prompt for persona-differentiated scripts.
type ScriptedClient struct {
	mu         sync.Mutex
	sequential []ScriptEntry
	seqIndex   int
	routes     map[string][]ScriptEntry
	routeIndex map[string]int
	captured   []*Request
}

// NewScriptedClient creates an empty scripted client.
func NewScriptedClient() *ScriptedClient {
	return &ScriptedClient{
		routes:     make(map[string][]ScriptEntry),
		routeIndex: make(map[string]int),
	}
}

// Add appends a sequential entry consumed in call order.
func (c *ScriptedClient) Add(entry ScriptEntry) *ScriptedClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sequential = append(c.sequential, entry)
	return c
}

// AddText is shorthand for Add with a plain text response.
func (c *ScriptedClient) AddText(text string) *ScriptedClient {
	return c.Add(ScriptEntry{Text: text})
}

// AddRouted appends an entry consumed only by calls whose system prompt
// contains key (e.g. a persona display name).
func (c *ScriptedClient) AddRouted(key string, entry ScriptEntry) *ScriptedClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes[key] = append(c.routes[key], entry)
	return c
}

// Complete implements Client.
func (c *ScriptedClient) Complete(ctx context.Context, req *Request) (string, error) {
	c.mu.Lock()
	c.captured = append(c.captured, req)
	entry, err := c.nextEntry(req)
	c.mu.Unlock()
	if err != nil {
		return "", err
	}

	if entry.BlockUntilCancelled {
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		<-ctx.Done()
		return "", ctx.Err()
	}
	if entry.Err != nil {
		return "", entry.Err
	}
	return entry.Text, nil
}

// nextEntry selects routed entries first, then falls back to the sequential
// script. Callers hold c.mu.
func (c *ScriptedClient) nextEntry(req *Request) (ScriptEntry, error) {
	systemPrompt := ""
	if len(req.Messages) > 0 && req.Messages[0].Role == RoleSystem {
		systemPrompt = req.Messages[0].Content
	}
	for key, entries := range c.routes {
		if strings.Contains(systemPrompt, key) && c.routeIndex[key] < len(entries) {
			entry := entries[c.routeIndex[key]]
			c.routeIndex[key]++
			return entry, nil
		}
	}
	if c.seqIndex >= len(c.sequential) {
		return ScriptEntry{}, fmt.Errorf("scripted client exhausted after %d calls", len(c.captured)-1)
	}
	entry := c.sequential[c.seqIndex]
	c.seqIndex++
	return entry, nil
}

// CallCount returns the number of Complete calls made.
func (c *ScriptedClient) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.captured)
}

// Captured returns the requests seen so far, in call order.
func (c *ScriptedClient) Captured() []*Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Request, len(c.captured))
	copy(out, c.captured)
	return out
}
