// Package httpmock is the HTTP listener of the mock engine. One listener
// answers plain HTTP, upgrades push-ws definitions to WebSocket connections
// and holds push-sse definitions open as event streams.
//
// Requests no definition answers are relayed to their origin when the
// matcher asks for it. With PROXY_SERVER_ENABLED the listener also runs an
// intercepting forward proxy on PROXY_SERVER_PORT whose requests go through
// the same matching path.
package httpmock
