package probe

import (
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/chrisdefazio/adtranfirmwareupgrader/logger"
	"github.com/chrisdefazio/adtranfirmwareupgrader/schema"
)

var log schema.Logger

func init() {
	log = logger.Log
}

// Prober polls host liveness and link presence. The probe functions are
// replaceable so tests don't need raw-socket privileges or a cable.
type Prober struct {
	ping  func(address string, timeout time.Duration) bool
	wired func() *Link
}

// Link is a wired interface carrying an IPv4 address.
type Link struct {
	Interface string
	Address   string
}

func New() *Prober {
	return &Prober{
		ping:  icmpPing,
		wired: wiredLink,
	}
}

// WaitReachable polls the address with ICMP echo until it answers or the
// timeout elapses. Progress is reported at most once per interval.
func (p *Prober) WaitReachable(address string, timeout, interval time.Duration) bool {
	log.Infof("Waiting for device %s to respond to ping...", address)
	start := time.Now()
	for {
		if p.ping(address, interval) {
			log.Infof("Device %s is responding to ping.", address)
			return true
		}
		if time.Since(start) >= timeout {
			break
		}
		time.Sleep(interval)
		log.Infof("Still waiting for device %s... (%ds elapsed)", address, int(time.Since(start).Seconds()))
	}
	log.Warningf("Timeout waiting for device %s to respond to ping.", address)
	return false
}

// WaitLinkPresent polls for a wired link carrying an IPv4 address. The
// cancelled check is consulted between polls; it must be a readiness poll,
// never a blocking read, so that finding a link leaves the operator's
// input stream untouched for whatever prompt comes next. Cancellation
// returns ErrCancelled so the caller can fall back to manual address
// entry.
func (p *Prober) WaitLinkPresent(timeout, interval time.Duration, cancelled func() bool) (*Link, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(interval)
	defer tick.Stop()

	start := time.Now()
	for {
		if l := p.wired(); l != nil {
			return l, nil
		}
		if cancelled != nil && cancelled() {
			return nil, schema.ErrCancelled
		}
		log.Infof("Waiting for Ethernet connection... (%ds)", int(time.Since(start).Seconds()))
		select {
		case <-deadline.C:
			return nil, schema.ErrUnreachable
		case <-tick.C:
		}
	}
}

func icmpPing(address string, timeout time.Duration) bool {
	pinger, err := probing.NewPinger(address)
	if err != nil {
		log.Warningf("Bad ping target %q: %v", address, err)
		return false
	}
	pinger.Count = 1
	pinger.Timeout = timeout
	// Raw ICMP sockets; needs CAP_NET_RAW or root on Linux, same as the
	// system ping binary.
	pinger.SetPrivileged(true)
	if err := pinger.Run(); err != nil {
		log.Debugf("Ping %s: %v", address, err)
		return false
	}
	return pinger.Statistics().PacketsRecv > 0
}
