// Package testutil provides testing utilities for the nova project.
package testutil

// Safe test credentials that won't trigger secret scanning.
// Keep them obviously fake; never paste a real-looking bot token here.
const (
	// FakeDiscordToken is a safe test bot token.
	FakeDiscordToken = "test-discord-bot-token"

	// FakeLavalinkPassword is a safe test password for the audio backend.
	FakeLavalinkPassword = "test-lavalink-password"

	// FakeOwnerToken is a safe bootstrap owner token for web tests.
	FakeOwnerToken = "test-owner-token"

	// FakeApplicationID is a safe application id.
	FakeApplicationID = "100000000000000001"
)
