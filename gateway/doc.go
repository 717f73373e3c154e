// Package gateway holds the shared configuration for the external surfaces
// of the topic view service: the HTTP administration API and the WebSocket
// reference topic feed.
package gateway
