package match

import "context"

// Matcher identifies the track in a frame. It returns (nil, nil) when the
// service answered but recognized nothing.
type Matcher interface {
	Match(ctx context.Context, req Request) (*Candidate, error)
}

// MatcherFunc adapts a function to Matcher.
type MatcherFunc func(ctx context.Context, req Request) (*Candidate, error)

func (f MatcherFunc) Match(ctx context.Context, req Request) (*Candidate, error) {
	return f(ctx, req)
}
