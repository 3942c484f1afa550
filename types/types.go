package types

// Contains miscellaneous functions and types shared across the module.

import (
	"context"
	"fmt"
	"log/slog"
)

// DCID identifies one of Telegram's regional datacenters.
//
// Production datacenters are numbered 1 through 5; media CDNs and test
// datacenters use other positive numbers. Zero is "no datacenter" and is
// used for queries that have not been routed yet.
type DCID int32

const (
	// DCNone marks a query that has not been assigned a datacenter.
	DCNone DCID = 0

	// MainDCCount is the number of primary production datacenters.
	MainDCCount = 5
)

func (d DCID) IsValid() bool {
	return d > 0
}

// IsMain reports whether this is one of the primary production datacenters.
func (d DCID) IsMain() bool {
	return d >= 1 && d <= MainDCCount
}

func (d DCID) String() string {
	if d == DCNone {
		return "dc(none)"
	}
	return fmt.Sprintf("dc%d", int32(d))
}

// LevelTrace is one step below slog.LevelDebug, for wire-level logging.
const LevelTrace slog.Level = -8

// IsContextDone does a quick check on a context to see if its dead.
func IsContextDone(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
