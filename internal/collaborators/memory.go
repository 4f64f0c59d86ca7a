package collaborators

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
)

// MemoryContentCatalog is an in-memory reference ContentCatalog. Catalog
// search ranking, freshness, and persistence are out of scope (spec §1);
// this exists only so the handlers have something real to call in tests
// and in the devicesim demo, not as a production catalog.
type MemoryContentCatalog struct {
	mu    sync.Mutex
	items map[string]ContentItem
}

func NewMemoryContentCatalog(seed []ContentItem) *MemoryContentCatalog {
	c := &MemoryContentCatalog{items: make(map[string]ContentItem)}
	for _, it := range seed {
		c.items[it.ID] = it
	}
	return c
}

func (c *MemoryContentCatalog) GetRandom(ctx context.Context, t ContentType, category string) (*ContentItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var candidates []ContentItem
	for _, it := range c.items {
		candidates = append(candidates, it)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	pick := candidates[rand.Intn(len(candidates))]
	return &pick, nil
}

func (c *MemoryContentCatalog) GetContentByName(ctx context.Context, t ContentType, name string) (*ContentItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, it := range c.items {
		if strings.EqualFold(it.Title, name) {
			cp := it
			return &cp, nil
		}
	}
	return nil, nil
}

func (c *MemoryContentCatalog) GetContentByID(ctx context.Context, id string) (*ContentItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if it, ok := c.items[id]; ok {
		cp := it
		return &cp, nil
	}
	return nil, nil
}

func (c *MemoryContentCatalog) SearchByArtist(ctx context.Context, artist string, t ContentType, limit int) ([]ContentItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []ContentItem
	for _, it := range c.items {
		if strings.Contains(strings.ToLower(it.Artist), strings.ToLower(artist)) {
			out = append(out, it)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (c *MemoryContentCatalog) SearchByArtistAndTitle(ctx context.Context, artist, title string) (*ContentItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, it := range c.items {
		if strings.EqualFold(it.Artist, artist) && strings.EqualFold(it.Title, title) {
			cp := it
			return &cp, nil
		}
	}
	return nil, nil
}

func (c *MemoryContentCatalog) GetContentList(ctx context.Context, t ContentType, category string, limit int, shuffle bool) ([]ContentItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []ContentItem
	for _, it := range c.items {
		out = append(out, it)
	}
	if shuffle {
		rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c *MemoryContentCatalog) SmartSearch(ctx context.Context, keyword string, limit int) ([]ContentItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []ContentItem
	needle := strings.ToLower(keyword)
	for _, it := range c.items {
		if strings.Contains(strings.ToLower(it.Title), needle) || strings.Contains(strings.ToLower(it.Artist), needle) {
			out = append(out, it)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (c *MemoryContentCatalog) IncrementPlayCount(ctx context.Context, id string) error {
	return nil
}

func (c *MemoryContentCatalog) DeleteContent(ctx context.Context, id string, hard bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[id]; !ok {
		return false, nil
	}
	delete(c.items, id)
	return true, nil
}

// MemorySessionStore is an in-memory reference SessionStore for the chat
// handler's conversation history. Persistence and expiry policy are out of
// scope; this keeps the last N turns per device in process memory.
type MemorySessionStore struct {
	mu      sync.Mutex
	history map[string][]ChatMessage
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{history: make(map[string][]ChatMessage)}
}

func (s *MemorySessionStore) GetConversationContext(ctx context.Context, deviceID string, limit int) ([]ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history[deviceID]
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	out := make([]ChatMessage, len(h))
	copy(out, h)
	return out, nil
}

func (s *MemorySessionStore) AddToConversation(ctx context.Context, deviceID, role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[deviceID] = append(s.history[deviceID], ChatMessage{Role: role, Content: content})
	return nil
}

func (s *MemorySessionStore) ClearConversation(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.history, deviceID)
	return nil
}

// MemoryEnglishCatalog is an in-memory reference EnglishCatalog.
type MemoryEnglishCatalog struct {
	mu    sync.Mutex
	words map[string]WordInfo
}

func NewMemoryEnglishCatalog(seed []WordInfo) *MemoryEnglishCatalog {
	c := &MemoryEnglishCatalog{words: make(map[string]WordInfo)}
	for _, w := range seed {
		c.words[strings.ToLower(w.Word)] = w
	}
	return c
}

func (c *MemoryEnglishCatalog) GetRandomWord(ctx context.Context, level string) (*WordInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var candidates []WordInfo
	for _, w := range c.words {
		candidates = append(candidates, w)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	pick := candidates[rand.Intn(len(candidates))]
	return &pick, nil
}

func (c *MemoryEnglishCatalog) GetWord(ctx context.Context, word string) (*WordInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.words[strings.ToLower(word)]; ok {
		cp := w
		return &cp, nil
	}
	return nil, fmt.Errorf("word not found: %s", word)
}

// MemoryPlayQueueStore is the in-process PlayQueueStore used by tests and by
// a devicesim/single-device deployment that has no Redis available. Its
// cursor logic is a copy of RedisPlayQueueStore's — only the storage
// medium differs — so both backends apply the same mode semantics of spec
// §6.2 (sequential wrap only on request, playlist-loop always wraps,
// single-loop holds, shuffle jumps), each through its own mode switch.
type MemoryPlayQueueStore struct {
	mu      sync.Mutex
	records map[string]*queueRecord
}

func NewMemoryPlayQueueStore() *MemoryPlayQueueStore {
	return &MemoryPlayQueueStore{records: make(map[string]*queueRecord)}
}

func (m *MemoryPlayQueueStore) recordFor(deviceID string) *queueRecord {
	rec, ok := m.records[deviceID]
	if !ok {
		rec = &queueRecord{Mode: ModeSequential}
		m.records[deviceID] = rec
	}
	return rec
}

func (m *MemoryPlayQueueStore) SetMode(ctx context.Context, deviceID string, mode PlayMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordFor(deviceID).Mode = mode
	return nil
}

func (m *MemoryPlayQueueStore) GetMode(ctx context.Context, deviceID string) (PlayMode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordFor(deviceID).Mode, nil
}

func (m *MemoryPlayQueueStore) SetQueue(ctx context.Context, deviceID string, ids []string, startIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.recordFor(deviceID)
	rec.IDs = ids
	rec.Index = startIndex
	return nil
}

func (m *MemoryPlayQueueStore) AddToQueue(ctx context.Context, deviceID string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.recordFor(deviceID)
	rec.IDs = append(rec.IDs, ids...)
	return nil
}

func (m *MemoryPlayQueueStore) GetNext(ctx context.Context, deviceID string, wrap bool) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.recordFor(deviceID)
	if len(rec.IDs) == 0 {
		return "", false, nil
	}
	switch rec.Mode {
	case ModeSingleLoop:
		return rec.IDs[rec.Index], true, nil
	case ModeShuffle:
		rec.Index = randomOtherIndex(rec.Index, len(rec.IDs))
		return rec.IDs[rec.Index], true, nil
	case ModePlaylistLoop:
		wrap = true
		fallthrough
	default:
		next := rec.Index + 1
		if next >= len(rec.IDs) {
			if !wrap {
				return "", false, nil
			}
			next = 0
		}
		rec.Index = next
		return rec.IDs[next], true, nil
	}
}

func (m *MemoryPlayQueueStore) GetPrevious(ctx context.Context, deviceID string, wrap bool) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.recordFor(deviceID)
	if len(rec.IDs) == 0 {
		return "", false, nil
	}
	switch rec.Mode {
	case ModeSingleLoop:
		return rec.IDs[rec.Index], true, nil
	case ModeShuffle:
		rec.Index = randomOtherIndex(rec.Index, len(rec.IDs))
		return rec.IDs[rec.Index], true, nil
	case ModePlaylistLoop:
		wrap = true
		fallthrough
	default:
		prev := rec.Index - 1
		if prev < 0 {
			if !wrap {
				return "", false, nil
			}
			prev = len(rec.IDs) - 1
		}
		rec.Index = prev
		return rec.IDs[prev], true, nil
	}
}

func (m *MemoryPlayQueueStore) ClearQueue(ctx context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, deviceID)
	return nil
}

func (m *MemoryPlayQueueStore) GetQueue(ctx context.Context, deviceID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordFor(deviceID).IDs, nil
}

func randomOtherIndex(current, n int) int {
	if n <= 1 {
		return current
	}
	for {
		i := rand.Intn(n)
		if i != current {
			return i
		}
	}
}
