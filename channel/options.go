package channel

import (
	"github.com/rs/zerolog"

	"xdao.co/streams/keys"
)

type options struct {
	multiBranching bool
	scheme         keys.Scheme
	logger         zerolog.Logger
}

func defaultOptions() options {
	return options{scheme: keys.Ed25519, logger: zerolog.Nop()}
}

// Option configures a participant.
type Option func(*options)

// WithMultiBranching selects multi-branch sequencing. For a Subscriber it is
// only a default: the announcement decides.
func WithMultiBranching(multi bool) Option {
	return func(o *options) { o.multiBranching = multi }
}

// WithScheme selects the signature scheme of the participant's identity.
func WithScheme(s keys.Scheme) Option {
	return func(o *options) { o.scheme = s }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}
