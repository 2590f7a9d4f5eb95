package retrieve

import "errors"

// ErrEmptyQuery is returned when a search request carries no query text.
var ErrEmptyQuery = errors.New("retrieve: empty query")

// ErrEmptyURL is returned when a visit request carries no URL.
var ErrEmptyURL = errors.New("retrieve: empty url")

// ErrNoProviders is returned at construction when no enabled provider
// could be built.
var ErrNoProviders = errors.New("retrieve: no enabled search providers")

// ErrUnknownProvider is returned at construction for a provider name the
// core has no adapter for.
var ErrUnknownProvider = errors.New("retrieve: unknown provider")
