package server

import (
	"errors"
	"log/slog"

	"github.com/wirerealm/wlcore/objects"
	"github.com/wirerealm/wlcore/proto"
)

// serverPolicy implements dispatch.Policy per spec §4.5/§7's server-side
// rules: every recoverable violation is posted back to the offending
// client as a built-in display event and dispatch continues — the server
// never latches a fatal flag, since one misbehaving client must not stall
// the others.
type serverPolicy struct {
	client *Client
	logger *slog.Logger
}

func (p *serverPolicy) AbsentReceiver(receiver objects.ID, opcode proto.Opcode) {
	p.logger.Warn("server: request for unknown object", "receiver", receiver, "opcode", opcode)
	_ = p.client.selfResource.SendEvent(proto.DisplayInvalidObject, "u", []proto.Arg{proto.UintArg(uint32(receiver))})
}

func (p *serverPolicy) InvalidOpcode(receiver objects.ID, opcode proto.Opcode, err error) {
	p.logger.Warn("server: invalid opcode", "receiver", receiver, "opcode", opcode, "err", err)
	_ = p.client.selfResource.SendEvent(proto.DisplayInvalidMethod, "uu", []proto.Arg{proto.UintArg(uint32(receiver)), proto.UintArg(uint32(opcode))})
}

func (p *serverPolicy) DecodeFailed(receiver objects.ID, opcode proto.Opcode, err error) {
	p.logger.Warn("server: decode failed", "receiver", receiver, "opcode", opcode, "err", err)
	if errors.Is(err, proto.ErrNoMemory) {
		_ = p.client.selfResource.SendEvent(proto.DisplayNoMemory, "", nil)
		return
	}
	_ = p.client.selfResource.SendEvent(proto.DisplayInvalidMethod, "uu", []proto.Arg{proto.UintArg(uint32(receiver)), proto.UintArg(uint32(opcode))})
}

func (p *serverPolicy) Fatal() bool { return false }
