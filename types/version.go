package types

// Version is the canonical project version.
// The CLI, the runtime and the wire protocol share this version.
const Version = "0.4.0"

// ProtocolVersion is the version of the streaming frame protocol.
// It is sent with every outbound request and must equal Version.
const ProtocolVersion = "0.4.0"
