// Package api exposes the wallet daemon over HTTP: wallet management,
// message and transaction signing, agent actions, activity and status, with
// optional bearer-token authentication and Prometheus-style metrics.
package api
