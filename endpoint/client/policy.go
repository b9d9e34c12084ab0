package client

import (
	"log/slog"

	"github.com/wirerealm/wlcore/objects"
	"github.com/wirerealm/wlcore/proto"
)

// clientPolicy implements dispatch.Policy per spec §4.5/§7's client-side
// rules: absent receivers are logged and absorbed; any decode or opcode
// violation latches the fatal flag, since the client has no peer to
// report a protocol error to — it IS the offender's victim.
type clientPolicy struct {
	logger *slog.Logger
	fatal  bool
}

func (p *clientPolicy) AbsentReceiver(receiver objects.ID, opcode proto.Opcode) {
	p.logger.Warn("client: event for unknown object", "receiver", receiver, "opcode", opcode)
}

func (p *clientPolicy) InvalidOpcode(receiver objects.ID, opcode proto.Opcode, err error) {
	p.logger.Error("client: invalid opcode, entering fatal state", "receiver", receiver, "opcode", opcode, "err", err)
	p.fatal = true
}

func (p *clientPolicy) DecodeFailed(receiver objects.ID, opcode proto.Opcode, err error) {
	p.logger.Error("client: decode failed, entering fatal state", "receiver", receiver, "opcode", opcode, "err", err)
	p.fatal = true
}

func (p *clientPolicy) Fatal() bool { return p.fatal }
