// Package api provides the REST surface of hostel-messaging.
//
// # Routes
//
// Canonical routes under /api/messaging:
//
//	POST   /conversations                   {participant_id} -> 201 new, 200 existing
//	GET    /conversations?participant_id=   participant's conversations
//	GET    /conversations?assignee_id=      assignee's conversations plus the unassigned queue
//	GET    /conversations?all=true          every conversation, most recent first
//	GET    /conversations/{id}
//	PUT    /conversations/{id}/assignee     {assignee_id}
//	GET    /conversations/{id}/messages     ?limit=&offset= -> {data,total,limit,offset,hasMore}
//	POST   /messages                        {conversation_id,sender_id,sender_role,body}
//	PATCH  /messages/{id}/read
//	PATCH  /messages/{id}/delivered
//
// POST /messages honours an Idempotency-Key header: a retry with the same key
// returns the first message instead of appending a duplicate.
//
// The legacy route shapes and field aliases older clients send are accepted
// only by the adapter in compat.go.
//
// # Errors
//
// Every failure body is {"error": kind, "message": text} where kind is one of
// validation, not_found, conflict, unavailable, internal, unauthorized or
// forbidden. Messages are stable and never include internal causes.
//
// # Authentication
//
// With a verifier configured every /api/messaging route and the socket
// endpoint require a bearer token. Participant tokens may only act for their
// own subject; support tokens may act for anyone. /health and /health/ready
// are always open.
package api
