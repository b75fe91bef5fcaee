package internal

import (
	"context"
	"image"
	"io"
)

type StartGGAPI interface {
	GetStandings(ctx context.Context, pair SlugPair) ([]StandingEntry, error)
	GetEventStats(ctx context.Context, pair SlugPair) (*EventStats, error)
}

type CharacterStore interface {
	Read(ctx context.Context) (map[string]string, error)
	Write(ctx context.Context, picks map[string]string) error
	Close() error
}

type RateLimiterInterface interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type GraphicEventPublisher interface {
	PublishGraphicGenerated(event GraphicGeneratedEvent) error
}

type FileUploader interface {
	Upload(ctx context.Context, key string, contentType string, reader io.Reader) (*UploadResult, error)
	Delete(ctx context.Context, key string) error
	GetPublicURL(key string) string
}

type FileSaver interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
}

type IconResolver interface {
	Resolve(character string) image.Image
}

type ImageDecoder interface {
	DecodeConfig(r io.Reader) (image.Config, string, error)
	Decode(r io.Reader) (image.Image, string, error)
}
