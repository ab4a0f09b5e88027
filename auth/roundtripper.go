package auth

import (
	"net/http"
)

// RoundTripper injects the store's credential header into every outbound
// request that does not already carry one.
type RoundTripper struct {
	store     Store
	transport http.RoundTripper
}

// NewRoundTripper creates a header-injecting round tripper.
func NewRoundTripper(store Store, transport http.RoundTripper) *RoundTripper {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &RoundTripper{store: store, transport: transport}
}

func (r *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if r.store != nil {
		header, err := r.store.AuthHeader(req.Context())
		if err != nil {
			return nil, err
		}
		if header != nil && req.Header.Get(header.Name) == "" {
			clone := req.Clone(req.Context())
			header.Apply(clone.Header)
			return r.transport.RoundTrip(clone)
		}
	}
	return r.transport.RoundTrip(req)
}
