// Package api handles incoming HTTP requests: the multipart upload form, the
// HTML task listing and the JSON task endpoints. It translates HTTP concerns
// to task.Service calls and maps service errors to status codes.
package api
