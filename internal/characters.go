package internal

import (
	"context"
	"strings"
	"sync"
)

var MeleeCharacters = []string{
	"Fox",
	"Falco",
	"Marth",
	"Sheik",
	"Peach",
	"Jigglypuff",
	"Captain Falcon",
	"Donkey Kong",
	"Ice Climbers",
	"Luigi",
	"Yoshi",
	"Mario",
	"Samus",
	"Ganondorf",
	"Young Link",
	"Link",
	"Bowser",
	"Pikachu",
	"Roy",
	"Mr. Game & Watch",
	"Ness",
	"Mewtwo",
	"Pichu",
	"Dr. Mario",
	"Kirby",
	"Zelda",
}

// CleanName drops sponsor tags: "TSM | Leffen" -> "Leffen".
func CleanName(name string) string {
	if i := strings.LastIndex(name, "|"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "Unknown"
	}
	return name
}

// mergePicks overlays update onto base and returns base.
func mergePicks(base, update map[string]string) map[string]string {
	if base == nil {
		base = make(map[string]string, len(update))
	}
	for name, character := range update {
		base[name] = character
	}
	return base
}

// picksFromEntries builds the cache update for a rendered graphic. Entries
// without a name or character are skipped.
func picksFromEntries(entries []GraphicEntry) map[string]string {
	picks := make(map[string]string, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e.Name) == "" || strings.TrimSpace(e.Character) == "" {
			continue
		}
		picks[CleanName(e.Name)] = e.Character
	}
	return picks
}

// memoryCharacterStore keeps picks in process memory. Used when no durable
// store could be opened and in tests.
type memoryCharacterStore struct {
	mu    sync.RWMutex
	picks map[string]string
}

func NewMemoryCharacterStore() CharacterStore {
	return &memoryCharacterStore{picks: make(map[string]string)}
}

func (m *memoryCharacterStore) Read(ctx context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.picks))
	for k, v := range m.picks {
		out[k] = v
	}
	return out, nil
}

func (m *memoryCharacterStore) Write(ctx context.Context, picks map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.picks = mergePicks(m.picks, picks)
	return nil
}

func (m *memoryCharacterStore) Close() error {
	return nil
}
