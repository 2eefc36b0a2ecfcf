// Package webtransport terminates WebTransport sessions on top of quic-go's
// HTTP/3 server. It turns the HTTP/3 extended CONNECT handler into a pull
// style endpoint: Server.Accept yields one pending session at a time, and the
// caller finalizes the handshake with Incoming.Accept, receiving a Conn that
// exposes bidirectional streams, unidirectional streams and datagrams.
package webtransport
