package zk

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/biogate/internal/biogate/types"
	"github.com/BrandonDHaskell/biogate/internal/device"
)

var errClosed = errors.New("session closed")

// Dialer opens authenticated terminal sessions.
type Dialer struct {
	Log logrus.FieldLogger
}

func NewDialer(log logrus.FieldLogger) *Dialer {
	return &Dialer{Log: log}
}

func (d *Dialer) Dial(ctx context.Context, addr device.Address) (device.Session, error) {
	return Connect(ctx, addr, d.Log)
}

// Client is one connected session. It is not safe for concurrent use.
type Client struct {
	addr    device.Address
	conn    transport
	timeout time.Duration
	log     logrus.FieldLogger

	session uint16
	reply   uint16

	userCount      int
	userPacketSize int

	// events received while waiting for a command reply
	pending []types.ScanEvent
	closed  bool
}

// Connect dials addr and performs the CONNECT/AUTH handshake.
func Connect(ctx context.Context, addr device.Address, log logrus.FieldLogger) (*Client, error) {
	if addr.Timeout <= 0 {
		addr.Timeout = device.DefaultTimeout
	}
	network := addr.Transport
	if network == "" {
		network = device.TransportUDP
	}

	dctx, cancel := context.WithTimeout(ctx, addr.Timeout)
	defer cancel()
	var nd net.Dialer
	nc, err := nd.DialContext(dctx, network, addr.String())
	if err != nil {
		return nil, device.Connectivity("dial "+addr.String(), err)
	}

	c := &Client{
		addr:           addr,
		timeout:        addr.Timeout,
		log:            log.WithField("device", addr.String()),
		reply:          ushrtMax - 1,
		userPacketSize: 28,
	}
	if network == device.TransportTCP {
		c.conn = newTCPTransport(nc)
	} else {
		c.conn = newUDPTransport(nc)
	}

	if err := c.handshake(ctx); err != nil {
		_ = c.conn.close()
		return nil, err
	}
	return c, nil
}

func (c *Client) handshake(ctx context.Context) error {
	resp, err := c.command(ctx, cmdConnect, nil)
	if err != nil {
		return device.Connectivity("connect", err)
	}
	c.session = resp.session

	if resp.cmd == ackUnauth {
		resp, err = c.command(ctx, cmdAuth, makeCommKey(c.addr.CommKey, c.session))
		if err != nil {
			return device.Connectivity("auth", err)
		}
	}
	switch {
	case okCode(resp.cmd):
		c.log.WithField("zk_session", c.session).Debug("handshake complete")
		return nil
	case resp.cmd == ackUnauth:
		return device.ErrUnauthorized
	default:
		return device.Connectivity("connect", fmt.Errorf("unexpected reply %d", resp.cmd))
	}
}

type response struct {
	cmd     uint16
	session uint16
	reply   uint16
	data    []byte
}

// command sends one request and waits for its reply. Live events that
// arrive first are acknowledged and queued for the event stream.
func (c *Client) command(ctx context.Context, cmd uint16, payload []byte) (response, error) {
	if c.closed {
		return response{}, errClosed
	}
	if err := c.armDeadline(ctx); err != nil {
		return response{}, err
	}
	stop := context.AfterFunc(ctx, func() { _ = c.conn.setDeadline(time.Unix(1, 0)) })
	defer stop()

	req := packet(cmd, c.session, c.reply, payload)
	want := binary.LittleEndian.Uint16(req[6:])
	if err := c.conn.send(req); err != nil {
		return response{}, c.ctxErr(ctx, err)
	}
	for {
		resp, err := c.read()
		if err != nil {
			return response{}, c.ctxErr(ctx, err)
		}
		if resp.cmd == cmdRegEvent {
			c.queueEvents(resp.data)
			continue
		}
		// A reply to an earlier command that timed out.
		if resp.reply != want {
			c.log.WithField("reply", resp.reply).Debug("stale reply dropped")
			continue
		}
		c.reply = resp.reply
		return resp, nil
	}
}

func (c *Client) read() (response, error) {
	pkt, err := c.conn.recv()
	if err != nil {
		return response{}, err
	}
	h, ok := parseHeader(pkt)
	if !ok {
		return response{}, fmt.Errorf("short packet: %d bytes", len(pkt))
	}
	return response{cmd: h.cmd, session: h.session, reply: h.reply, data: pkt[headerSize:]}, nil
}

func (c *Client) armDeadline(ctx context.Context) error {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return c.conn.setDeadline(deadline)
}

func (c *Client) ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	return err
}

// ack confirms a pushed event packet.
func (c *Client) ack() error {
	return c.conn.send(packet(ackOK, c.session, ushrtMax-1, nil))
}

func (c *Client) queueEvents(data []byte) {
	if err := c.ack(); err != nil {
		c.log.WithError(err).Debug("ack event")
	}
	c.pending = append(c.pending, decodeEvents(data)...)
}

// simple runs a command whose only result is its reply code.
func (c *Client) simple(ctx context.Context, op string, cmd uint16, payload []byte) error {
	resp, err := c.command(ctx, cmd, payload)
	if err != nil {
		return device.Connectivity(op, err)
	}
	if !okCode(resp.cmd) {
		return device.Rejected(op, fmt.Errorf("reply %d", resp.cmd))
	}
	return nil
}

func (c *Client) Disable(ctx context.Context) error {
	return c.simple(ctx, "disable device", cmdDisableDevice, nil)
}

func (c *Client) Enable(ctx context.Context) error {
	return c.simple(ctx, "enable device", cmdEnableDevice, nil)
}

func (c *Client) UnlockRelay(ctx context.Context, seconds int) error {
	return c.simple(ctx, "unlock", cmdUnlock, le32(uint32(seconds)*10))
}

func (c *Client) refreshData(ctx context.Context) error {
	return c.simple(ctx, "refresh data", cmdRefreshData, nil)
}

// LiveEvents registers for attendance pushes.
func (c *Client) LiveEvents(ctx context.Context) (device.EventStream, error) {
	if err := c.simple(ctx, "cancel capture", cmdCancelCapture, nil); err != nil && !errors.Is(err, device.ErrDeviceWrite) {
		return nil, err
	}
	if err := c.simple(ctx, "start verify", cmdStartVerify, nil); err != nil && !errors.Is(err, device.ErrDeviceWrite) {
		return nil, err
	}
	if err := c.simple(ctx, "register events", cmdRegEvent, le32(efAttLog)); err != nil {
		return nil, err
	}
	return &eventStream{c: c}, nil
}

// Disconnect sends EXIT and closes the socket. Later calls are no-ops.
func (c *Client) Disconnect() error {
	if c.closed {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := c.command(ctx, cmdExit, nil); err != nil {
		c.log.WithError(err).Debug("exit")
	}
	c.closed = true
	return c.conn.close()
}

type eventStream struct {
	c *Client
}

func (s *eventStream) Next(ctx context.Context) (types.ScanEvent, error) {
	c := s.c
	for {
		if len(c.pending) > 0 {
			ev := c.pending[0]
			c.pending = c.pending[1:]
			return ev, nil
		}
		if err := ctx.Err(); err != nil {
			return types.ScanEvent{}, err
		}
		if c.closed {
			return types.ScanEvent{}, device.Connectivity("live events", errClosed)
		}

		if err := c.conn.setDeadline(time.Time{}); err != nil {
			return types.ScanEvent{}, device.Connectivity("live events", err)
		}
		stop := context.AfterFunc(ctx, func() { _ = c.conn.setReadDeadline(time.Unix(1, 0)) })
		resp, err := c.read()
		stop()
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return types.ScanEvent{}, cerr
			}
			return types.ScanEvent{}, device.Connectivity("live events", err)
		}
		if err := c.ack(); err != nil {
			return types.ScanEvent{}, device.Connectivity("ack event", err)
		}
		if resp.cmd != cmdRegEvent || len(resp.data) == 0 {
			continue
		}
		c.pending = append(c.pending, decodeEvents(resp.data)...)
	}
}

// decodeEvents splits a REG_EVENT payload into attendance records. Record
// width depends on firmware; widths that match no known layout end the
// payload.
func decodeEvents(data []byte) []types.ScanEvent {
	var out []types.ScanEvent
	for len(data) >= 10 {
		var (
			userID string
			rest   []byte
			width  int
		)
		switch n := len(data); {
		case n == 10 || n == 14:
			userID = fmt.Sprint(binary.LittleEndian.Uint16(data))
			rest, width = data[2:], n
		case n == 12:
			userID = fmt.Sprint(binary.LittleEndian.Uint32(data))
			rest, width = data[4:], 12
		case n == 32 || n == 36 || n == 37:
			userID = cstring(data[:24])
			rest, width = data[24:], n
		case n >= 52:
			userID = cstring(data[:24])
			rest, width = data[24:], 52
		default:
			return out
		}
		out = append(out, types.ScanEvent{
			UserID:    userID,
			Status:    rest[0],
			Punch:     rest[1],
			Timestamp: decodeTime(rest[2:8]),
		})
		data = data[width:]
	}
	return out
}
