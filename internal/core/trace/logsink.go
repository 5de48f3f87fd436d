package trace

import (
	"fmt"
	"net/netip"

	"github.com/sirupsen/logrus"

	"veilnet.io/stratum/internal/core/identity"
	"veilnet.io/stratum/internal/core/protocol"
)

// LogSink reports trace events as structured logrus records.
type LogSink struct {
	log *logrus.Entry
}

// NewLogSink wraps a logrus logger as a trace sink.
func NewLogSink(log *logrus.Logger) *LogSink {
	return &LogSink{log: logrus.NewEntry(log)}
}

func (s *LogSink) IncomingPacketDropped(tag uint32, packetID uint64, ident *identity.Identity,
	pathAddr netip.AddrPort, hops uint8, verb protocol.Verb, reason DropReason) {
	fields := logrus.Fields{
		"tag":    fmt.Sprintf("%08x", tag),
		"packet": fmt.Sprintf("%016x", packetID),
		"path":   pathAddr.String(),
		"hops":   hops,
		"verb":   verb.String(),
		"reason": reason.String(),
	}
	if ident != nil {
		fields["peer"] = ident.Address().String()
	}
	s.log.WithFields(fields).Debug("incoming packet dropped")
}

func (s *LogSink) TryingNewPath(tag uint32, ident *identity.Identity, candidate netip.AddrPort,
	triggerAddr netip.AddrPort, triggerPacketID uint64, triggerVerb protocol.Verb, reason NewPathReason) {
	fields := logrus.Fields{
		"tag":       fmt.Sprintf("%08x", tag),
		"candidate": candidate.String(),
		"via":       triggerAddr.String(),
		"packet":    fmt.Sprintf("%016x", triggerPacketID),
		"verb":      triggerVerb.String(),
	}
	if ident != nil {
		fields["peer"] = ident.Address().String()
	}
	s.log.WithFields(fields).Debug("trying new path")
}

func (s *LogSink) UnexpectedError(tag uint32, format string, args ...any) {
	s.log.WithField("tag", fmt.Sprintf("%08x", tag)).Errorf(format, args...)
}
