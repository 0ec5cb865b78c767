// Package httpapi exposes the audit engine over HTTP. The serve command assembles the engine
// once from configuration and a chi router answers batch and single-item evaluation requests.
// Every request carries an X-Request-ID that is echoed in the response body and headers.
package httpapi
