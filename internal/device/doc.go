// Package device implements the client for the instrument's parameter
// REST API.
//
// Every parameter is addressed as /api/v1/<name> and wrapped in a common
// JSON envelope with a status field; structured error details are exposed
// through APIError. Requests retry with exponential backoff on transport
// and server-side failures, while validation errors from the instrument
// are returned immediately.
package device
