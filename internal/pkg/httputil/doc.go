// Package httputil provides shared HTTP response/request helpers for the
// tracking handlers.
//
// Handlers use these instead of raw http.ResponseWriter calls so that JSON
// formatting, the error envelope and internal-error logging stay consistent
// across endpoints. The pixel route is the one exception: it writes image
// bytes directly.
package httputil
