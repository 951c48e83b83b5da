package device

import (
	"context"

	"caen-hv-bridge/internal/protocol"
)

// Monitor reads one parameter of a channel.
func (c *Client) Monitor(ctx context.Context, ch int, par protocol.Param) (protocol.Reply, error) {
	return c.Request(ctx, protocol.BuildCommand(protocol.OpMonitor, ch, par).Wire())
}

func (c *Client) MonVSet(ctx context.Context, ch int) (protocol.Reply, error) {
	return c.Monitor(ctx, ch, protocol.ParamVSet)
}

func (c *Client) MonVMon(ctx context.Context, ch int) (protocol.Reply, error) {
	return c.Monitor(ctx, ch, protocol.ParamVMon)
}

func (c *Client) MonISet(ctx context.Context, ch int) (protocol.Reply, error) {
	return c.Monitor(ctx, ch, protocol.ParamISet)
}

func (c *Client) MonIMon(ctx context.Context, ch int) (protocol.Reply, error) {
	return c.Monitor(ctx, ch, protocol.ParamIMon)
}

func (c *Client) MonStat(ctx context.Context, ch int) (protocol.Reply, error) {
	return c.Monitor(ctx, ch, protocol.ParamStat)
}

func (c *Client) MonTrip(ctx context.Context, ch int) (protocol.Reply, error) {
	return c.Monitor(ctx, ch, protocol.ParamTrip)
}

// SetVSet sets the voltage setpoint. value is sent verbatim.
func (c *Client) SetVSet(ctx context.Context, ch int, value string) (protocol.Reply, error) {
	return c.Request(ctx, protocol.BuildCommand(protocol.OpSet, ch, protocol.ParamVSet, value).Wire())
}

// SetISet sets the current limit. value is sent verbatim.
func (c *Client) SetISet(ctx context.Context, ch int, value string) (protocol.Reply, error) {
	return c.Request(ctx, protocol.BuildCommand(protocol.OpSet, ch, protocol.ParamISet, value).Wire())
}

// PowerOn switches a channel on with PAR:ON, falling back to PAR:PW,VAL:ON
// when the device rejects the first form.
func (c *Client) PowerOn(ctx context.Context, ch int) (protocol.Reply, error) {
	return c.switchPower(ctx, ch, protocol.ParamOn, protocol.ValueOn)
}

// PowerOff switches a channel off with PAR:OFF, falling back to PAR:PW,VAL:OFF.
func (c *Client) PowerOff(ctx context.Context, ch int) (protocol.Reply, error) {
	return c.switchPower(ctx, ch, protocol.ParamOff, protocol.ValueOff)
}

// switchPower sends the primary form and, only if the device answered it
// with OK=false, the PW form. The PW reply is returned as is.
// A transport error on the primary form is returned without a fallback.
func (c *Client) switchPower(ctx context.Context, ch int, primary protocol.Param, pw string) (protocol.Reply, error) {
	reply, err := c.Request(ctx, protocol.BuildCommand(protocol.OpSet, ch, primary).Wire())
	if err != nil || reply.OK {
		return reply, err
	}
	return c.Request(ctx, protocol.BuildCommand(protocol.OpSet, ch, protocol.ParamPW, pw).Wire())
}

// PowerDownKill sets the power-down mode of a channel to KILL.
func (c *Client) PowerDownKill(ctx context.Context, ch int) (protocol.Reply, error) {
	return c.Request(ctx, protocol.BuildCommand(protocol.OpSet, ch, protocol.ParamPDwn, protocol.ValueKill).Wire())
}

// Raw sends a user supplied payload, adding the line terminator if missing.
func (c *Client) Raw(ctx context.Context, payload string) (protocol.Reply, error) {
	return c.Request(ctx, protocol.EnsureTerminator(payload))
}
