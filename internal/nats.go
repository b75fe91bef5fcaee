package internal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	subjectGraphicGenerated = "top8.graphic.generated"
	characterCacheQueue     = "character-cache-workers"
)

type NATSClient struct {
	Conn   *nats.Conn
	logger *Logger
}

func NewNATSClient(cfg *Config, logger *Logger) (*NATSClient, error) {
	conn, err := nats.Connect(cfg.NATSUrl,
		nats.Name(cfg.NATSClientID),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &NATSClient{Conn: conn, logger: logger}, nil
}

func (nc *NATSClient) Publish(subject string, data []byte) error {
	return nc.Conn.Publish(subject, data)
}

func (nc *NATSClient) PublishGraphicGenerated(event GraphicGeneratedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return nc.Publish(subjectGraphicGenerated, data)
}

// StartCharacterCacheWorker merge-writes the picks of every generated graphic
// into store. Workers share a queue group so each event is applied once.
func (nc *NATSClient) StartCharacterCacheWorker(store CharacterStore) (*nats.Subscription, error) {
	handler := func(msg *nats.Msg) {
		processGraphicGenerated(msg, store, nc.logger)
	}

	sub, err := nc.Conn.QueueSubscribe(subjectGraphicGenerated, characterCacheQueue, handler)
	if err != nil {
		return nil, err
	}

	nc.logger.Info("worker_started").
		Component("nats").
		Operation("start_character_cache_worker").
		Worker(characterCacheQueue, subjectGraphicGenerated, 0).
		Log()
	return sub, nil
}

func processGraphicGenerated(msg *nats.Msg, store CharacterStore, logger *Logger) {
	var event GraphicGeneratedEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		logger.Error("graphic_event_decode_failed").
			Component("nats").
			Operation("process_graphic_generated").
			Worker(characterCacheQueue, subjectGraphicGenerated, 0).
			Err(err).
			Log()
		return
	}

	if len(event.Picks) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.Write(ctx, event.Picks); err != nil {
		logger.Error("character_cache_write_failed").
			Component("nats").
			Operation("process_graphic_generated").
			Worker(characterCacheQueue, subjectGraphicGenerated, 0).
			Err(err).
			Meta("graphic_id", event.GraphicID).
			Log()
		return
	}

	logger.Info("character_cache_written").
		Component("nats").
		Operation("process_graphic_generated").
		Worker(characterCacheQueue, subjectGraphicGenerated, 0).
		Meta("graphic_id", event.GraphicID).
		Meta("picks", len(event.Picks)).
		Log()
}

func (nc *NATSClient) Close() {
	if nc != nil && nc.Conn != nil {
		nc.Conn.Close()
	}
}
