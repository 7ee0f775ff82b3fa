package crawler

import "errors"

var (
	// ErrPolicyFetch marks a robots.txt that could not be retrieved; callers fall back to permit-all.
	ErrPolicyFetch = errors.New("robots policy fetch failed")
	// ErrDisallowed marks a URL that robots.txt forbids, including redirect targets.
	ErrDisallowed = errors.New("disallowed by robots.txt")
	// ErrFetch wraps per-URL fetch failures. They never abort a session.
	ErrFetch = errors.New("fetch failed")
	// ErrDuplicateURL is returned by a PageStore when the canonical URL is already stored.
	ErrDuplicateURL = errors.New("duplicate url")
	// ErrInvalidQuery rejects blank or signal-free search queries.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrCapabilityUnavailable reports an unreachable embedding or summarization backend.
	ErrCapabilityUnavailable = errors.New("capability unavailable")
	// ErrUnknownSession is returned when no crawl session exists for a root URL.
	ErrUnknownSession = errors.New("unknown session")
	// ErrSessionStarted is returned when a coordinator is run more than once.
	ErrSessionStarted = errors.New("session already started")
	// ErrInvalidURL rejects seeds that are not absolute http(s) URLs.
	ErrInvalidURL = errors.New("invalid url")
)
