package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const standingsLimit = 8

const eventStandingsQuery = `query EventStandings($slug: String) {
  event(slug: $slug) {
    standings(query: { perPage: 8, page: 1 }) {
      nodes {
        placement
        entrant { name }
      }
    }
  }
}`

const tournamentSetsQuery = `query TournamentSetsData($slug: String, $page: Int, $perPage: Int) {
  tournament(slug: $slug) {
    events {
      name
      sets(page: $page, perPage: $perPage) {
        pageInfo {
          totalPages
        }
        nodes {
          id
          displayScore
          slots {
            entrant {
              id
            }
          }
        }
      }
    }
  }
}`

type StartGGClient struct {
	apiKey   string
	baseURL  string
	maxPages int
	perPage  int
	client   *http.Client
	logger   *Logger
	metrics  *MetricsCollector
}

func NewStartGGClient(cfg *Config, logger *Logger, metrics *MetricsCollector) *StartGGClient {
	timeout := cfg.StartGGTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxPages := cfg.StartGGMaxPages
	if maxPages < 1 {
		maxPages = 10
	}
	perPage := cfg.StartGGSetsPerPage
	if perPage < 1 {
		perPage = 50
	}

	return &StartGGClient{
		apiKey:   strings.TrimSpace(cfg.StartGGAPIKey),
		baseURL:  strings.TrimRight(cfg.StartGGBaseURL, "/"),
		maxPages: maxPages,
		perPage:  perPage,
		client: &http.Client{
			Timeout: timeout,
		},
		logger:  logger,
		metrics: metrics,
	}
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *StartGGClient) doRequest(ctx context.Context, operation, query string, variables map[string]interface{}, out interface{}) (err error) {
	if c.apiKey == "" {
		return ErrAPIKeyMissing
	}

	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.RecordUpstream(operation, time.Since(start), err)
		}
	}()

	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return &NetworkError{Operation: operation, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Operation: operation, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return &NetworkError{Operation: operation, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var gqlResp graphQLResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return &NetworkError{Operation: operation, Err: fmt.Errorf("decode response: %w", err)}
	}

	if len(gqlResp.Errors) > 0 {
		messages := make([]string, 0, len(gqlResp.Errors))
		for _, e := range gqlResp.Errors {
			messages = append(messages, e.Message)
		}
		return &GraphQLError{Operation: operation, Messages: messages}
	}

	if len(gqlResp.Data) == 0 || string(gqlResp.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(gqlResp.Data, out); err != nil {
		return &NetworkError{Operation: operation, Err: fmt.Errorf("decode data: %w", err)}
	}
	return nil
}

// GetStandings returns at most eight placements sorted ascending. The API
// already orders them but the order is re-applied here.
func (c *StartGGClient) GetStandings(ctx context.Context, pair SlugPair) ([]StandingEntry, error) {
	start := time.Now()

	var data EventStandingsData
	variables := map[string]interface{}{"slug": pair.EventSlug}
	if err := c.doRequest(ctx, "EventStandings", eventStandingsQuery, variables, &data); err != nil {
		c.logger.Error("standings_fetch_failed").
			Component("startgg").
			Operation("get_standings").
			Event(pair.TournamentSlug, pair.EventSlugPart, 0).
			Err(err).
			Log()
		return nil, err
	}

	var entries []StandingEntry
	if data.Event != nil && data.Event.Standings != nil {
		for _, node := range data.Event.Standings.Nodes {
			entry := StandingEntry{Placement: node.Placement}
			if node.Entrant != nil {
				entry.EntrantName = node.Entrant.Name
			}
			entries = append(entries, entry)
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Placement < entries[j].Placement
	})
	if len(entries) > standingsLimit {
		entries = entries[:standingsLimit]
	}

	c.logger.Info("standings_fetched").
		Component("startgg").
		Operation("get_standings").
		Event(pair.TournamentSlug, pair.EventSlugPart, 0).
		Duration(time.Since(start)).
		Meta("entries", len(entries)).
		Log()

	return entries, nil
}

func (c *StartGGClient) fetchSetsPage(ctx context.Context, tournamentSlug string, page int) (*TournamentSetsData, error) {
	var data TournamentSetsData
	variables := map[string]interface{}{
		"slug":    tournamentSlug,
		"page":    page,
		"perPage": c.perPage,
	}
	if err := c.doRequest(ctx, "TournamentSetsData", tournamentSetsQuery, variables, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetEventStats walks every page of the event's sets (up to maxPages) and
// folds them into one EventStats. Pages that fail are dropped and counted in
// PagesDropped. When the event itself cannot be located the zeroed stats are
// returned together with an error wrapping ErrEventNotFound.
func (c *StartGGClient) GetEventStats(ctx context.Context, pair SlugPair) (*EventStats, error) {
	if c.apiKey == "" {
		return nil, ErrAPIKeyMissing
	}

	start := time.Now()
	stats := &EventStats{}

	first, err := c.fetchSetsPage(ctx, pair.TournamentSlug, 1)
	if err != nil {
		stats.PagesDropped = 1
		c.recordPage(true)
		c.logger.Warn("sets_page_dropped").
			Component("startgg").
			Operation("get_event_stats").
			Event(pair.TournamentSlug, pair.EventSlugPart, 1).
			Err(err).
			Log()
		return stats, fmt.Errorf("%w: page 1 unavailable: %v", ErrEventNotFound, err)
	}
	c.recordPage(false)

	event := findEvent(first, pair.EventSlugPart)
	if event == nil || event.Sets == nil {
		stats.PagesFetched = 1
		c.logger.Warn("event_not_found").
			Component("startgg").
			Operation("get_event_stats").
			Event(pair.TournamentSlug, pair.EventSlugPart, 1).
			Log()
		return stats, fmt.Errorf("%w: %q in tournament %q", ErrEventNotFound, pair.EventSlugPart, pair.TournamentSlug)
	}

	stats.TotalPages = event.Sets.PageInfo.TotalPages
	pages := pagesToFetch(stats.TotalPages, c.maxPages)
	if stats.TotalPages > pages {
		c.logger.Debug("sets_pages_capped").
			Component("startgg").
			Operation("get_event_stats").
			Event(pair.TournamentSlug, pair.EventSlugPart, 0).
			Meta("total_pages", stats.TotalPages).
			Meta("max_pages", c.maxPages).
			Log()
	}

	results := make([][]Set, pages)
	dropped := make([]bool, pages)
	results[0] = event.Sets.Nodes

	// Workers never return an error, so one failed page cannot cancel the
	// pages still in flight.
	var g errgroup.Group
	for page := 2; page <= pages; page++ {
		g.Go(func() error {
			data, err := c.fetchSetsPage(ctx, pair.TournamentSlug, page)
			if err != nil {
				dropped[page-1] = true
				c.recordPage(true)
				c.logger.Warn("sets_page_dropped").
					Component("startgg").
					Operation("get_event_stats").
					Event(pair.TournamentSlug, pair.EventSlugPart, page).
					Err(err).
					Log()
				return nil
			}

			pageEvent := findEvent(data, pair.EventSlugPart)
			if pageEvent == nil || pageEvent.Sets == nil {
				dropped[page-1] = true
				c.recordPage(true)
				c.logger.Warn("sets_page_missing_event").
					Component("startgg").
					Operation("get_event_stats").
					Event(pair.TournamentSlug, pair.EventSlugPart, page).
					Log()
				return nil
			}

			c.recordPage(false)
			results[page-1] = pageEvent.Sets.Nodes
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var all []Set
	for i, sets := range results {
		if dropped[i] {
			stats.PagesDropped++
			continue
		}
		stats.PagesFetched++
		all = append(all, sets...)
	}

	agg := AggregateSets(all)
	stats.NonDQAttendees = agg.NonDQAttendees
	stats.NonDQSets = agg.NonDQSets
	stats.TotalSets = agg.TotalSets

	c.logger.Info("event_stats_aggregated").
		Component("startgg").
		Operation("get_event_stats").
		Event(pair.TournamentSlug, pair.EventSlugPart, 0).
		Duration(time.Since(start)).
		Meta("pages_fetched", stats.PagesFetched).
		Meta("pages_dropped", stats.PagesDropped).
		Meta("non_dq_sets", stats.NonDQSets).
		Meta("non_dq_attendees", stats.NonDQAttendees).
		Log()

	return stats, nil
}

func (c *StartGGClient) recordPage(dropped bool) {
	if c.metrics != nil {
		c.metrics.RecordPage(dropped)
	}
}

// IsFatal reports whether an error from the pipeline must abort the request
// instead of degrading the result.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAPIKeyMissing) || errors.Is(err, ErrInvalidSlugFormat)
}
