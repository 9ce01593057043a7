// Package api is the exchange REST client used to probe exchange status.
//
// Requests are optionally signed with auth.Credentials and retried with
// exponential backoff on 5xx and 429 responses.
package api
