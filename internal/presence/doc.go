// Package presence coordinates typing indicators.
//
// Indicators are transient and never persisted. Each (conversation, actor)
// pair has a watchdog timer; if no refresh or stop arrives before it fires,
// typingHide is published so a client that vanished mid-sentence never leaves
// a stuck indicator behind.
package presence
