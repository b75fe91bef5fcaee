package internal

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAPIKeyMissing     = errors.New("start.gg API key is not configured (STARTGG_API_KEY)")
	ErrInvalidSlugFormat = errors.New("invalid event URL format: expected tournament/<slug>/event/<slug>")
	ErrEventNotFound     = errors.New("event not found in tournament")
	ErrNoStandings       = errors.New("no standings returned")
	ErrNoEntries         = errors.New("no entries to generate from")
	ErrMissingCharacter  = errors.New("a character must be selected for every player")
	ErrInvalidImage      = errors.New("invalid image")
)

// GraphQLError is returned when the upstream answers 200 but carries an
// "errors" array.
type GraphQLError struct {
	Operation string
	Messages  []string
}

func (e *GraphQLError) Error() string {
	return fmt.Sprintf("start.gg GraphQL error in %s: %s", e.Operation, strings.Join(e.Messages, "; "))
}

// NetworkError covers transport failures and non-200 responses.
type NetworkError struct {
	Operation  string
	StatusCode int
	Body       string
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("start.gg API error in %s: %d - %s", e.Operation, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("start.gg request failed in %s: %v", e.Operation, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
