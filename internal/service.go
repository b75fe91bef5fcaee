package internal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Top8Service runs the fetch -> populate -> render pipeline. It holds no
// per-user state: each FetchEvent returns a Session and GenerateGraphic gets
// the edited rows back from the caller.
type Top8Service struct {
	api       StartGGAPI
	store     CharacterStore
	renderer  *GraphicRenderer
	publisher GraphicEventPublisher
	uploader  FileUploader
	saver     FileSaver
	logger    *Logger
	metrics   *MetricsCollector
	now       func() time.Time
}

type Top8ServiceOptions struct {
	API       StartGGAPI
	Store     CharacterStore
	Renderer  *GraphicRenderer
	Publisher GraphicEventPublisher
	Uploader  FileUploader
	Saver     FileSaver
	Logger    *Logger
	Metrics   *MetricsCollector
}

func NewTop8Service(opts Top8ServiceOptions) *Top8Service {
	return &Top8Service{
		api:       opts.API,
		store:     opts.Store,
		renderer:  opts.Renderer,
		publisher: opts.Publisher,
		uploader:  opts.Uploader,
		saver:     opts.Saver,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		now:       time.Now,
	}
}

// FetchEvent validates the input, fetches standings and stats in parallel and
// pre-fills each row's character from the cache. Standings failures abort;
// stats failures degrade to zeroed stats plus a warning.
func (s *Top8Service) FetchEvent(ctx context.Context, input string) (*Session, error) {
	pair, err := ParseSlugPair(input)
	if err != nil {
		return nil, err
	}

	session := &Session{
		ID:        uuid.New().String(),
		Input:     input,
		Slug:      pair,
		CreatedAt: s.now().UTC(),
	}

	var (
		standings []StandingEntry
		stats     *EventStats
		statsErr  error
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		standings, err = s.api.GetStandings(gCtx, pair)
		return err
	})
	g.Go(func() error {
		stats, statsErr = s.api.GetEventStats(gCtx, pair)
		if statsErr != nil && IsFatal(statsErr) {
			return statsErr
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(standings) == 0 {
		return nil, ErrNoStandings
	}

	if statsErr != nil {
		session.Warnings = append(session.Warnings, statsWarning(statsErr))
	}
	if stats == nil {
		stats = &EventStats{}
	}
	if stats.PagesDropped > 0 && statsErr == nil {
		session.Warnings = append(session.Warnings,
			fmt.Sprintf("%d of %d set pages could not be fetched; counts may be low", stats.PagesDropped, stats.PagesDropped+stats.PagesFetched))
	}
	session.Stats = stats

	picks, err := s.store.Read(ctx)
	if err != nil {
		s.logger.Warn("character_cache_read_failed").
			Component("service").
			Operation("fetch_event").
			Err(err).
			Log()
		picks = nil
	}

	session.Rows = make([]Top8Row, 0, len(standings))
	for _, st := range standings {
		name := CleanName(st.EntrantName)
		row := Top8Row{Placement: st.Placement, Name: name, RawName: st.EntrantName}
		if character, ok := picks[name]; ok && character != "" {
			row.Character = character
			s.recordCache(true, name)
		} else {
			s.recordCache(false, name)
		}
		session.Rows = append(session.Rows, row)
	}

	s.logger.Info("event_fetched").
		Component("service").
		Operation("fetch_event").
		Event(pair.TournamentSlug, pair.EventSlugPart, 0).
		Meta("session_id", session.ID).
		Meta("rows", len(session.Rows)).
		Meta("non_dq_attendees", stats.NonDQAttendees).
		Meta("non_dq_sets", stats.NonDQSets).
		Log()

	return session, nil
}

func statsWarning(err error) string {
	if errors.Is(err, ErrEventNotFound) {
		return "event statistics unavailable: " + err.Error()
	}
	return "event statistics incomplete: " + err.Error()
}

func (s *Top8Service) recordCache(hit bool, name string) {
	if s.metrics == nil {
		return
	}
	if hit {
		s.metrics.RecordCacheHit(name)
	} else {
		s.metrics.RecordCacheMiss(name)
	}
}

func validateEntries(entries []GraphicEntry) error {
	if len(entries) == 0 {
		return ErrNoEntries
	}
	for i, e := range entries {
		if strings.TrimSpace(e.Character) == "" {
			return fmt.Errorf("%w (row %d, %q)", ErrMissingCharacter, i+1, e.Name)
		}
	}
	return nil
}

// GenerateGraphic renders the rows, optionally saves/uploads the PNG and
// merge-writes the picks into the character cache.
func (s *Top8Service) GenerateGraphic(ctx context.Context, req GraphicRequest) (*GraphicResult, error) {
	if err := validateEntries(req.Entries); err != nil {
		return nil, err
	}

	img, err := s.renderer.Render(req.Entries)
	if err != nil {
		return nil, err
	}
	data, err := EncodePNG(img)
	if err != nil {
		return nil, err
	}

	result := &GraphicResult{
		ID:      uuid.New().String(),
		PNG:     data,
		DataURL: PNGDataURL(data),
		Width:   img.Bounds().Dx(),
		Height:  img.Bounds().Dy(),
	}

	var uploadedKey string
	if req.Upload && s.uploader != nil {
		key := "top8/" + result.ID + ".png"
		uploaded, err := s.uploader.Upload(ctx, key, "image/png", bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		uploadedKey = uploaded.Key
		result.URL = uploaded.Location
	}

	if req.Save && s.saver != nil {
		name := fmt.Sprintf("top8-%d.png", s.now().Unix())
		if result.Path, err = s.saver.Save(ctx, name, data); err != nil {
			s.discardUpload(ctx, uploadedKey)
			return nil, err
		}
	}

	s.persistPicks(ctx, result, picksFromEntries(req.Entries))

	if s.metrics != nil {
		s.metrics.RecordGraphic()
	}
	s.logger.Info("graphic_generated").
		Component("service").
		Operation("generate_graphic").
		Meta("graphic_id", result.ID).
		Meta("entries", len(req.Entries)).
		Meta("width", result.Width).
		Meta("height", result.Height).
		Meta("uploaded", result.URL != "").
		Log()

	return result, nil
}

// discardUpload removes an object uploaded earlier in a request that then
// failed, so no orphan is left in the bucket.
func (s *Top8Service) discardUpload(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.uploader.Delete(ctx, key); err != nil {
		s.logger.Warn("upload_cleanup_failed").
			Component("service").
			Operation("generate_graphic").
			Meta("key", key).
			Err(err).
			Log()
	}
}

// persistPicks hands the picks to the NATS worker when one is configured and
// writes them directly otherwise. A failed cache write never fails the
// render.
func (s *Top8Service) persistPicks(ctx context.Context, result *GraphicResult, picks map[string]string) {
	if len(picks) == 0 {
		return
	}

	if s.publisher != nil {
		event := GraphicGeneratedEvent{
			GraphicID:   result.ID,
			Picks:       picks,
			URL:         result.URL,
			GeneratedAt: s.now().UTC(),
		}
		err := s.publisher.PublishGraphicGenerated(event)
		if err == nil {
			return
		}
		s.logger.Warn("graphic_event_publish_failed").
			Component("service").
			Operation("persist_picks").
			Err(err).
			Log()
	}

	if err := s.store.Write(ctx, picks); err != nil {
		s.logger.Error("character_cache_write_failed").
			Component("service").
			Operation("persist_picks").
			Err(err).
			Log()
	}
}

func (s *Top8Service) ReadCache(ctx context.Context) (map[string]string, error) {
	return s.store.Read(ctx)
}

func (s *Top8Service) WriteCache(ctx context.Context, picks map[string]string) error {
	return s.store.Write(ctx, picks)
}
