// Package messaging is the orchestration layer between the REST/socket
// handlers and the store and broker.
//
// # Flow
//
//	svc := messaging.New(store, broker, sends, logger)
//
//   - StartConversation: idempotent get-or-create per participant
//   - SendMessage: validate, append, refresh the preview (best effort), then
//     publish newMessage to the conversation's room
//   - MarkDelivered / MarkRead: persist the forward-only transition, then
//     publish messageStatusChanged when something actually changed
//
// Appending and publishing are not transactional. Once AppendMessage returns
// the message is durable; clients that missed the live event recover it by
// listing messages after they (re)join.
//
// # Errors
//
// Every method returns *Error with a Kind (validation, not_found, conflict,
// unavailable) and a stable client-safe Message. Store causes are wrapped and
// logged but never exposed through Message.
//
// # Previews
//
// Conversation.LastMessage is a cache. ReconcilePreviews recomputes it from
// the log and is run on a schedule and by the reconcile command.
package messaging
