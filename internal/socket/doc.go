// Package socket serves the realtime websocket endpoint.
//
// Every frame in either direction is a JSON object {"event": name, "data": payload}.
// Clients send joinRoom, leaveRoom, typingStart, typingStop, messageDelivered
// and messageRead. The server answers with connection-scoped frames (connected,
// joined, left, error) and forwards room events published on the broker
// (newMessage, typingShow, typingHide, messageStatusChanged).
//
// Each connection has a bounded outbound queue drained by one writer goroutine.
// A full queue drops frames for that connection only. The server pings on an
// interval and closes connections that stay silent past the idle timeout.
// A bad client event produces an error frame and the connection stays open.
package socket
