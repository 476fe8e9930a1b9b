// Package auth provides authentication middleware for the sortline HTTP API.
//
// APIKey(mode, header, key) returns middleware that validates the API key in
// the named request header. When mode != "apikey" or key == "", all requests
// pass through (useful for local development with auth disabled). When the
// key is incorrect or absent, the middleware answers 401 immediately.
//
// MutatingOnly wraps a middleware so it only guards state-changing methods;
// the dashboard's read endpoints stay open.
package auth
