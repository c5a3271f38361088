package scrape

import "fmt"

// TransportError reports a station page that could not be retrieved:
// connect failure, timeout, or a non-2xx response.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StructuralParseError reports a page missing a required anchor element.
type StructuralParseError struct {
	Anchor string
	Err    error
}

func (e *StructuralParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse: %s: %v", e.Anchor, e.Err)
	}
	return fmt.Sprintf("parse: required element %s not found", e.Anchor)
}

func (e *StructuralParseError) Unwrap() error {
	return e.Err
}
