// Package protocol frames the requests clients send to the server and the
// replies they get back.
//
// Every message starts with a 64-byte fixed part. A request begins with
//
//	opcode u32 | request_size u32 | reply_size u32 [| pad u32 on 64-bit]
//
// and a reply with
//
//	status u32 | reply_size u32 [| pad u64 on 64-bit]
//
// followed by the fixed fields of the payload, zero padded to 64 bytes.
// request_size and reply_size count only the variable data after the fixed
// part. All integers are little-endian.
//
// A select answered with STATUS_PENDING completes later with a 16-byte Wake
// message carrying the cookie of the wait and its final status.
package protocol
