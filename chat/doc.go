// Package chat ingests channel activity from Twitch IRC.
//
// A Recorder connects to the channel with an IRC bot account and routes
// every message, subscription notice, and raid three ways: into the
// in-memory live aggregate for the dashboard, into the batch buffers
// that feed the consolidated files, and into the per-event audit trail.
// The connection reconnects with a fixed delay until the run context is
// canceled.
//
// Credentials: the IRC client needs a bot username and an OAuth token
// with the chat:read scope.
package chat
