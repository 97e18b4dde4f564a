package ajax

import "github.com/ajaxbridge/ajaxbridge/core/fetch"

// ResponseDetails is the read-only status and header snapshot handed to
// callbacks together with a classified response.
type ResponseDetails struct {
	statusCode int
	headers    *fetch.Headers
}

func newResponseDetails(statusCode int, headers *fetch.Headers) *ResponseDetails {
	d := &ResponseDetails{statusCode: statusCode}
	if headers != nil {
		d.headers = headers.Clone()
	} else {
		d.headers = fetch.NewHeaders()
	}
	return d
}

func (d *ResponseDetails) StatusCode() int {
	return d.statusCode
}

// GetResponseHeader returns the values of the named response header joined by
// ",", or false when the response did not carry it.
func (d *ResponseDetails) GetResponseHeader(name string) (string, bool) {
	return d.headers.Get(name)
}

// Headers returns a copy of all response headers.
func (d *ResponseDetails) Headers() *fetch.Headers {
	return d.headers.Clone()
}
