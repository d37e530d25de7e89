package ports

import "net/http"

// HTTPClient is the subset of *http.Client the batch sender uses, so tests
// and embedders can substitute their own transport.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}
