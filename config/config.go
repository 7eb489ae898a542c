package config

import (
	"fmt"
	"net"
	"os"

	"github.com/joho/godotenv"

	"github.com/chrisdefazio/adtranfirmwareupgrader/devices"
	"github.com/chrisdefazio/adtranfirmwareupgrader/logger"
	"github.com/chrisdefazio/adtranfirmwareupgrader/schema"
)

var log schema.Logger

func init() {
	log = logger.Log
}

// LoadEnv reads a .env file into the process environment if one is present.
// Absence is normal; real environment variables always win.
func LoadEnv() {
	if err := godotenv.Load(); err == nil {
		log.Debug("Loaded credentials from .env file.")
	}
}

// Resolver maps a target address to the credential pair for that side of
// the upgrade. Pure function of configuration plus address: anything inside
// the family's post-upgrade range gets the upgraded pair, everything else
// the initial pair.
type Resolver struct {
	initial     schema.Credentials
	upgraded    schema.Credentials
	upgradedNet *net.IPNet
}

// NewResolver reads both credential pairs for the family from the
// environment. A missing key is ErrConfigurationMissing unless the family
// carries a documented default.
func NewResolver(profile devices.Profile) (*Resolver, error) {
	initial, err := credentialsFromEnv(profile, "INITIAL")
	if err != nil {
		return nil, err
	}
	upgraded, err := credentialsFromEnv(profile, "UPGRADED")
	if err != nil {
		return nil, err
	}
	r := &Resolver{initial: initial, upgraded: upgraded}
	if profile.UpgradedCIDR != "" {
		_, ipNet, err := net.ParseCIDR(profile.UpgradedCIDR)
		if err != nil {
			return nil, fmt.Errorf("bad upgraded range %q: %w", profile.UpgradedCIDR, schema.ErrConfigurationMissing)
		}
		r.upgradedNet = ipNet
	}
	return r, nil
}

// Resolve is deterministic and total over the configured range predicate.
func (r *Resolver) Resolve(address string) schema.Credentials {
	if r.upgradedNet != nil {
		if ip := net.ParseIP(address); ip != nil && r.upgradedNet.Contains(ip) {
			return r.upgraded
		}
	}
	return r.initial
}

// ResolveEndpoint prefers the address-range predicate, falling back to the
// endpoint's phase for families whose address does not change across the
// upgrade (Comtrend keeps 192.168.1.1 on both sides).
func (r *Resolver) ResolveEndpoint(endpoint schema.Endpoint) schema.Credentials {
	if r.upgradedNet != nil {
		return r.Resolve(endpoint.Address)
	}
	return r.ForPhase(endpoint.Phase)
}

func (r *Resolver) ForPhase(phase schema.Phase) schema.Credentials {
	if phase == schema.Upgraded {
		return r.upgraded
	}
	return r.initial
}

func credentialsFromEnv(profile devices.Profile, phase string) (schema.Credentials, error) {
	userKey := fmt.Sprintf("%s_%s_USERNAME", profile.EnvPrefix, phase)
	passKey := fmt.Sprintf("%s_%s_PASSWORD", profile.EnvPrefix, phase)
	creds := schema.Credentials{
		Username: os.Getenv(userKey),
		Password: os.Getenv(passKey),
	}
	if creds.Username != "" && creds.Password != "" {
		return creds, nil
	}
	if profile.DefaultCredentials != nil {
		def := *profile.DefaultCredentials
		if creds.Username == "" {
			creds.Username = def.Username
		}
		if creds.Password == "" {
			creds.Password = def.Password
		}
		return creds, nil
	}
	missing := userKey
	if creds.Username != "" {
		missing = passKey
	}
	return schema.Credentials{}, fmt.Errorf("%s not set: %w", missing, schema.ErrConfigurationMissing)
}
