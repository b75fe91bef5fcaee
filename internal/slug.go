package internal

import (
	"regexp"
	"strings"
)

const startGGMarker = "start.gg/"

var (
	eventPathPattern  = regexp.MustCompile(`tournament/[^/?#\s]+/event/[^/?#\s]+`)
	tournamentPattern = regexp.MustCompile(`tournament/([^/?#\s]+)`)
	nonAlphanumeric   = regexp.MustCompile(`[^a-z0-9]+`)
)

// ExtractSlug turns a pasted start.gg URL into its tournament/.../event/...
// path. Anything without the start.gg marker is assumed to already be a slug.
func ExtractSlug(input string) string {
	idx := strings.Index(input, startGGMarker)
	if idx < 0 {
		return input
	}

	if match := eventPathPattern.FindString(input); match != "" {
		return match
	}

	rest := input[idx+len(startGGMarker):]
	rest, _, _ = strings.Cut(rest, "/overview")
	rest, _, _ = strings.Cut(rest, "/brackets")
	return rest
}

// ParseSlugPair extracts and validates both halves of the event slug. Both
// segments are kept exactly as pasted; event matching normalizes on its own.
// It never touches the network.
func ParseSlugPair(input string) (SlugPair, error) {
	slug := ExtractSlug(strings.TrimSpace(input))

	var tournament string
	if m := tournamentPattern.FindStringSubmatch(slug); m != nil {
		tournament = m[1]
	}

	var eventPart string
	if _, after, ok := strings.Cut(slug, "/event/"); ok {
		eventPart, _, _ = strings.Cut(after, "/")
	}

	if tournament == "" || NormalizeEventName(eventPart) == "" {
		return SlugPair{}, ErrInvalidSlugFormat
	}

	return SlugPair{
		TournamentSlug: tournament,
		EventSlugPart:  eventPart,
		EventSlug:      "tournament/" + tournament + "/event/" + eventPart,
	}, nil
}

// NormalizeEventName maps an event display name to its URL slug form,
// e.g. "Melee Singles" -> "melee-singles".
func NormalizeEventName(name string) string {
	s := nonAlphanumeric.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(s, "-")
}
