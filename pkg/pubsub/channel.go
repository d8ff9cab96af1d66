package pubsub

// Channel is a named logical topic. The set of channels is a closed,
// application-defined enumeration; clients may only subscribe to channels
// listed here.
type Channel string

const (
	// ChannelDummy is a placeholder channel used by integration tests and
	// client smoke checks.
	ChannelDummy Channel = "dummy"

	// ChannelUserVerified carries notifications that a user completed
	// email verification.
	ChannelUserVerified Channel = "user-verified"
)

var knownChannels = map[Channel]bool{
	ChannelDummy:        true,
	ChannelUserVerified: true,
}

// Valid reports whether the channel belongs to the application enumeration.
func (c Channel) Valid() bool {
	return knownChannels[c]
}

func (c Channel) String() string {
	return string(c)
}
