package version

var (
	// GitCommit is the current HEAD, set via ldflags.
	GitCommit string

	// Version is the built software's version.
	Version = NotarySemVer
)

func init() {
	if GitCommit != "" {
		Version += "-" + GitCommit
	}
}

const (
	// NotarySemVer is the semantic version of the notary daemon.
	NotarySemVer = "0.1.0"

	// GossipProtocol versions the gossip wire messages. Peers advertising a
	// different protocol are rejected at handshake by the host transport.
	GossipProtocol uint64 = 1
)
