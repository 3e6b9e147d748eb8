// Package reader serves the line protocol spoken by RFID reader devices.
//
// A Server accepts TCP connections and runs one Session per connection in
// its own goroutine. Sessions are independent: a failure on one connection
// never reaches another or the acceptor.
//
// Protocol (UTF-8, one item per line, LF or CRLF terminated):
//
//	client: RFID
//	client: <identifier>
//	server: <employee JSON> | 404 | FACE_VERIFICATION_FAILED
//
// Any line other than the exact text RFID while awaiting a command is
// discarded without a reply. Each command produces exactly one reply line,
// flushed immediately, before the next command is read.
//
// Resolution:
//   - identifier not in the directory → 404 (the verifier is not run)
//   - found, no verifier configured → employee JSON
//   - found, verifier passes → employee JSON
//   - found, verifier rejects, times out or errors → FACE_VERIFICATION_FAILED
//   - directory failure → logged, no reply, session continues
//
// A session ends when the client closes the stream, a read or write fails,
// or a line exceeds the configured maximum length.
package reader
