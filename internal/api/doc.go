// Package api handles incoming HTTP requests, routing, request decoding,
// and response formatting. It adapts external clients to the internal
// services: project lifecycle, task submission and the synchronous
// example path, mapping internal errors to wire status codes.
package api
