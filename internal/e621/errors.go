package e621

import (
	"errors"
	"fmt"
)

// Kind classifies every failure the client and the pipeline can report.
type Kind int

const (
	KindNetwork Kind = iota + 1
	KindHTTP
	KindSerialization
	KindAboveLimit
	KindPoolNotFound
	KindAuthTokenNotFound
	KindIqdbQuery
	KindMissingFileURL
	KindFileSystem
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network error"
	case KindHTTP:
		return "http error"
	case KindSerialization:
		return "serialization error"
	case KindAboveLimit:
		return "above limit"
	case KindPoolNotFound:
		return "pool not found"
	case KindAuthTokenNotFound:
		return "auth token not found"
	case KindIqdbQuery:
		return "iqdb query error"
	case KindMissingFileURL:
		return "missing file url"
	case KindFileSystem:
		return "file system error"
	default:
		return "unknown error"
	}
}

// Error is the typed error returned by every package of get621.
type Error struct {
	Kind      Kind
	Code      int // http status, KindHTTP only
	Requested int // KindAboveLimit only
	Max       int // KindAboveLimit only
	PostID    int
	Err       error
}

// Sentinels usable with errors.Is; only the kind is compared.
var (
	ErrNetwork           = &Error{Kind: KindNetwork}
	ErrHTTP              = &Error{Kind: KindHTTP}
	ErrSerialization     = &Error{Kind: KindSerialization}
	ErrAboveLimit        = &Error{Kind: KindAboveLimit}
	ErrPoolNotFound      = &Error{Kind: KindPoolNotFound}
	ErrAuthTokenNotFound = &Error{Kind: KindAuthTokenNotFound}
	ErrIqdbQuery         = &Error{Kind: KindIqdbQuery}
	ErrMissingFileURL    = &Error{Kind: KindMissingFileURL}
	ErrFileSystem        = &Error{Kind: KindFileSystem}
)

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case KindHTTP:
		msg = fmt.Sprintf("HTTP error: %d", e.Code)
	case KindAboveLimit:
		msg = fmt.Sprintf("requested %d posts but ordered searches are limited to %d", e.Requested, e.Max)
	case KindMissingFileURL:
		msg = fmt.Sprintf("post #%d has no file url", e.PostID)
	default:
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func NetworkError(err error) *Error {
	return &Error{Kind: KindNetwork, Err: err}
}

func HTTPError(code int, detail string) *Error {
	e := &Error{Kind: KindHTTP, Code: code}
	if detail != "" {
		e.Err = errors.New(detail)
	}
	return e
}

func SerializationError(err error) *Error {
	return &Error{Kind: KindSerialization, Err: err}
}

func AboveLimitError(requested, max int) *Error {
	return &Error{Kind: KindAboveLimit, Requested: requested, Max: max}
}

func PoolNotFoundError(id int) *Error {
	return &Error{Kind: KindPoolNotFound, Err: fmt.Errorf("pool #%d", id)}
}

func AuthTokenNotFoundError(err error) *Error {
	return &Error{Kind: KindAuthTokenNotFound, Err: err}
}

func IqdbQueryError(err error) *Error {
	return &Error{Kind: KindIqdbQuery, Err: err}
}

func MissingFileURLError(postID int) *Error {
	return &Error{Kind: KindMissingFileURL, PostID: postID}
}

func FileSystemError(err error) *Error {
	return &Error{Kind: KindFileSystem, Err: err}
}

// ItemError is a failure confined to one post of an already resolved list.
// It is reported and never aborts the rest of the batch.
type ItemError struct {
	PostID int
	Action string
	Err    error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s #%d: %v", e.Action, e.PostID, e.Err)
}

func (e ItemError) Unwrap() error {
	return e.Err
}
