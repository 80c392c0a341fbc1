// Package transports registers all built-in transports with the default
// registry. Import it for side effects when the transport is selected by
// configuration rather than by an explicit import.
package transports

import (
	_ "github.com/evillard/mediabridge/transport/channel"
	iotransport "github.com/evillard/mediabridge/transport/io"
	natstransport "github.com/evillard/mediabridge/transport/nats"
)

func init() {
	iotransport.Register()
	natstransport.Register()
}
