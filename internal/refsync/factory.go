package refsync

import (
	"fmt"

	"github.com/shiwa/minions-cam/internal/clock"
	"github.com/shiwa/minions-cam/internal/config"
	"github.com/shiwa/minions-cam/internal/link"
)

// NewFromSource создаёт опорный источник из конфига
func NewFromSource(src config.ReferenceSource, rc config.ReferenceConfig, now clock.Func) (Reference, error) {
	if src.Disable {
		return nil, fmt.Errorf("source disabled")
	}
	timeout := config.ParseDuration(rc.Timeout, DefaultTimeout)
	var p Prober
	switch src.Protocol {
	case "link":
		var (
			port *link.Port
			err  error
		)
		switch src.Transport {
		case "serial":
			port, err = link.OpenSerial(src.Device, src.Baud, link.DefaultSerialReadTimeout)
		case "udp":
			port, err = link.DialUDP(src.Address)
		default:
			return nil, fmt.Errorf("link: unknown transport %q", src.Transport)
		}
		if err != nil {
			return nil, err
		}
		p = NewLinkProber(port, timeout, now)
	case "ntp":
		if src.Address == "" {
			return nil, fmt.Errorf("ntp: address required")
		}
		p = NewNTPProber(src.Address, timeout, now)
	default:
		return nil, fmt.Errorf("unknown protocol: %s", src.Protocol)
	}
	return NewClient(p, rc.Samples, rc.LeadSeconds, now), nil
}

// NewElectionFromConfig открывает все включённые источники; недоступные пропускаются с ошибкой в списке.
func NewElectionFromConfig(rc config.ReferenceConfig, now clock.Func) (*Election, []error) {
	var (
		primary, secondary []Reference
		errs               []error
	)
	open := func(list []config.ReferenceSource, dst *[]Reference, kind string) {
		for _, s := range list {
			if s.Disable {
				continue
			}
			r, err := NewFromSource(s, rc, now)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s %s: %w", kind, s.Protocol, err))
				continue
			}
			*dst = append(*dst, r)
		}
	}
	open(rc.Primary, &primary, "primary")
	open(rc.Secondary, &secondary, "secondary")
	return NewElection(primary, secondary), errs
}
