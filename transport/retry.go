package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/chrisdefazio/adtranfirmwareupgrader/schema"
)

// OverrideFunc lets a human resupply credentials after authentication has
// failed. Returning false leaves the original credentials in place.
type OverrideFunc func(endpoint schema.Endpoint) (schema.Credentials, bool)

// Dialer opens shell sessions. The dial function is replaceable so tests
// don't need a live gateway on the bench.
type Dialer struct {
	dial func(options schema.ConnectOptions) (schema.Session, error)
}

func NewDialer() *Dialer {
	return &Dialer{dial: connectShell}
}

// Connect attempts a single authentication and shell open against the
// endpoint. Errors wrap ErrAuthenticationFailed, ErrConnectTimeout or
// ErrTransport.
func (d *Dialer) Connect(options schema.ConnectOptions) (schema.Session, error) {
	log.Infof("Connecting to %s via %s...", options.Endpoint.Address, methodName(options.Method))
	s, err := d.dial(options)
	if err != nil {
		return nil, err
	}
	log.Infof("Successfully connected to %s.", options.Endpoint.Address)
	return s, nil
}

// RetryWithBackoff calls Connect up to attempts times, sleeping delay
// between failures. The manual override is surfaced at most once per call,
// on the first authentication failure only; subsequent attempts reuse
// whatever the human supplied.
func (d *Dialer) RetryWithBackoff(options schema.ConnectOptions, attempts int, delay time.Duration,
	override OverrideFunc) (schema.Session, error) {
	var lastErr error
	prompted := false
	for attempt := 1; attempt <= attempts; attempt++ {
		log.Infof("Attempt %d/%d...", attempt, attempts)
		s, err := d.Connect(options)
		if err == nil {
			return s, nil
		}
		lastErr = err
		log.Warningf("Connection failed: %v", err)
		if !prompted && override != nil && errors.Is(err, schema.ErrAuthenticationFailed) {
			prompted = true
			if creds, ok := override(options.Endpoint); ok {
				options.Credentials = creds
				continue
			}
		}
		if attempt < attempts {
			log.Infof("Waiting %v before retrying...", delay)
			time.Sleep(delay)
		}
	}
	return nil, fmt.Errorf("failed to connect to %s after %d attempts: %v: %w",
		options.Endpoint.Address, attempts, lastErr, schema.ErrAuthExhausted)
}

func methodName(m schema.ConnectionMethod) string {
	if m == schema.Telnet {
		return "telnet"
	}
	return "SSH"
}
