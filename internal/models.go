package internal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type SlugPair struct {
	TournamentSlug string `json:"tournament_slug"`
	EventSlugPart  string `json:"event_slug_part"`
	EventSlug      string `json:"event_slug"`
}

type StandingEntry struct {
	Placement   int    `json:"placement"`
	EntrantName string `json:"entrant_name"`
}

// EntityID is an opaque start.gg ID. The API serializes IDs as strings or
// numbers depending on the field, so both decode to the same key.
type EntityID string

func (id *EntityID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = EntityID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode id %s: %w", data, err)
	}
	*id = EntityID(n.String())
	return nil
}

type Entrant struct {
	ID   EntityID `json:"id"`
	Name string   `json:"name"`
}

type Slot struct {
	Entrant *Entrant `json:"entrant"`
}

// Set carries only what the aggregation reads; winner and state are not
// requested from the API.
type Set struct {
	ID           EntityID `json:"id"`
	DisplayScore *string  `json:"displayScore"`
	Slots        []Slot   `json:"slots"`
}

// IsNonDQ reports whether the set was actually played: it has a score and
// the score does not mention a disqualification.
func (s Set) IsNonDQ() bool {
	if s.DisplayScore == nil {
		return false
	}
	return !strings.Contains(strings.ToLower(*s.DisplayScore), "dq")
}

type PageInfo struct {
	TotalPages int `json:"totalPages"`
}

type SetConnection struct {
	PageInfo PageInfo `json:"pageInfo"`
	Nodes    []Set    `json:"nodes"`
}

type TournamentEvent struct {
	Name string         `json:"name"`
	Sets *SetConnection `json:"sets"`
}

type Tournament struct {
	Events []TournamentEvent `json:"events"`
}

type TournamentSetsData struct {
	Tournament *Tournament `json:"tournament"`
}

type standingNode struct {
	Placement int      `json:"placement"`
	Entrant   *Entrant `json:"entrant"`
}

type EventStandingsData struct {
	Event *struct {
		Standings *struct {
			Nodes []standingNode `json:"nodes"`
		} `json:"standings"`
	} `json:"event"`
}

type EventStats struct {
	NonDQAttendees int `json:"non_dq_attendees"`
	NonDQSets      int `json:"non_dq_sets"`
	TotalSets      int `json:"total_sets"`
	TotalPages     int `json:"total_pages"`
	PagesFetched   int `json:"pages_fetched"`
	PagesDropped   int `json:"pages_dropped"`
}

// Top8Row is one editable line of a session: the cleaned name is what the
// user sees and what the character cache is keyed by.
type Top8Row struct {
	Placement int    `json:"placement"`
	Name      string `json:"name"`
	RawName   string `json:"raw_name"`
	Character string `json:"character,omitempty"`
}

type Session struct {
	ID        string      `json:"id"`
	Input     string      `json:"input"`
	Slug      SlugPair    `json:"slug"`
	Rows      []Top8Row   `json:"rows"`
	Stats     *EventStats `json:"stats"`
	Warnings  []string    `json:"warnings,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

type GraphicEntry struct {
	Place     int    `json:"place"`
	Name      string `json:"name"`
	Character string `json:"character"`
}

type GraphicRequest struct {
	Entries []GraphicEntry `json:"entries"`
	Upload  bool           `json:"upload"`
	Save    bool           `json:"save"`
}

type GraphicResult struct {
	ID      string `json:"id"`
	PNG     []byte `json:"-"`
	DataURL string `json:"data_url"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	URL     string `json:"url,omitempty"`
	Path    string `json:"path,omitempty"`
}

// GraphicGeneratedEvent is published after a successful render so the
// character picks can be persisted by a worker.
type GraphicGeneratedEvent struct {
	GraphicID   string            `json:"graphic_id"`
	Picks       map[string]string `json:"picks"`
	URL         string            `json:"url,omitempty"`
	GeneratedAt time.Time         `json:"generated_at"`
}
