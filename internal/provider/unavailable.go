package provider

import "context"

// Unavailable always fails. It stands in for a category that has no
// provider left to try.
type Unavailable struct {
	Reason string
}

// Name returns the provider name.
func (u Unavailable) Name() string { return "unavailable" }

// Fetch always fails with ErrUnavailable.
func (u Unavailable) Fetch(context.Context, Request) (Content, error) {
	msg := u.Reason
	if msg == "" {
		msg = ErrUnavailable.Error()
	}
	return Content{}, NewError(u.Name(), KindNetwork, msg, ErrUnavailable)
}
