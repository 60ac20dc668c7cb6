package zk

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/BrandonDHaskell/biogate/internal/biogate/types"
	"github.com/BrandonDHaskell/biogate/internal/device"
)

// ListUsers reads every enrolled user through the buffered read protocol.
// The record width (28 or 72 bytes) learned here is reused by SetUserGroup.
func (c *Client) ListUsers(ctx context.Context) ([]types.DeviceUser, error) {
	if err := c.readSizes(ctx); err != nil {
		return nil, err
	}
	if c.userCount == 0 {
		return nil, nil
	}

	data, err := c.readWithBuffer(ctx, cmdUserTempRrq, fctUser)
	if err != nil {
		return nil, err
	}
	if len(data) <= 4 {
		return nil, nil
	}

	total := int(binary.LittleEndian.Uint32(data))
	c.userPacketSize = total / c.userCount
	switch c.userPacketSize {
	case 28, 72:
	default:
		c.log.WithField("packet_size", c.userPacketSize).Warn("unexpected user record size")
	}
	return decodeUsers(data[4:], c.userPacketSize), nil
}

// readSizes loads record counts. Only the user count is kept.
func (c *Client) readSizes(ctx context.Context) error {
	resp, err := c.command(ctx, cmdGetFreeSizes, nil)
	if err != nil {
		return device.Connectivity("read sizes", err)
	}
	if !okCode(resp.cmd) {
		return device.Rejected("read sizes", fmt.Errorf("reply %d", resp.cmd))
	}
	if len(resp.data) >= 80 {
		c.userCount = int(int32(binary.LittleEndian.Uint32(resp.data[16:])))
	}
	return nil
}

func (c *Client) readWithBuffer(ctx context.Context, cmd uint16, fct int32) ([]byte, error) {
	req := make([]byte, 11)
	req[0] = 1
	binary.LittleEndian.PutUint16(req[1:], cmd)
	binary.LittleEndian.PutUint32(req[3:], uint32(fct))

	resp, err := c.command(ctx, cmdPrepareBuffer, req)
	if err != nil {
		return nil, device.Connectivity("prepare buffer", err)
	}
	if !okCode(resp.cmd) {
		return nil, device.Rejected("prepare buffer", fmt.Errorf("reply %d", resp.cmd))
	}
	if resp.cmd == cmdData {
		return resp.data, nil
	}
	if len(resp.data) < 5 {
		return nil, device.Connectivity("prepare buffer", fmt.Errorf("short size reply"))
	}
	size := int(binary.LittleEndian.Uint32(resp.data[1:]))

	var out bytes.Buffer
	chunk := c.conn.maxChunk()
	for start := 0; start < size; start += chunk {
		n := chunk
		if size-start < n {
			n = size - start
		}
		b, err := c.readChunk(ctx, start, n)
		if err != nil {
			return nil, err
		}
		out.Write(b)
	}

	if err := c.simple(ctx, "free data", cmdFreeData, nil); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (c *Client) readChunk(ctx context.Context, start, size int) ([]byte, error) {
	req := make([]byte, 8)
	binary.LittleEndian.PutUint32(req[0:], uint32(start))
	binary.LittleEndian.PutUint32(req[4:], uint32(size))

	for attempt := 0; attempt < 3; attempt++ {
		resp, err := c.command(ctx, cmdReadBuffer, req)
		if err != nil {
			return nil, device.Connectivity("read buffer", err)
		}
		switch resp.cmd {
		case cmdData:
			return resp.data, nil
		case cmdPrepareData:
			return c.receiveData(ctx)
		}
	}
	return nil, device.Connectivity("read buffer", fmt.Errorf("chunk at %d not returned", start))
}

// receiveData collects DATA packets following PREPARE_DATA until ACK_OK.
func (c *Client) receiveData(ctx context.Context) ([]byte, error) {
	var out bytes.Buffer
	for {
		resp, err := c.read()
		if err != nil {
			return nil, device.Connectivity("receive data", c.ctxErr(ctx, err))
		}
		switch resp.cmd {
		case cmdData:
			out.Write(resp.data)
		case cmdRegEvent:
			c.queueEvents(resp.data)
		default:
			return out.Bytes(), nil
		}
	}
}

func decodeUsers(data []byte, width int) []types.DeviceUser {
	if width != 28 {
		width = 72
	}
	var out []types.DeviceUser
	for len(data) >= width {
		rec := data[:width]
		data = data[width:]

		var u types.DeviceUser
		if width == 28 {
			u = types.DeviceUser{
				UID:       binary.LittleEndian.Uint16(rec[0:]),
				Privilege: rec[2],
				Password:  cstring(rec[3:8]),
				Name:      strings.TrimSpace(cstring(rec[8:16])),
				Card:      binary.LittleEndian.Uint32(rec[16:]),
				GroupID:   strconv.Itoa(int(rec[21])),
				UserID:    strconv.FormatUint(uint64(binary.LittleEndian.Uint32(rec[24:])), 10),
			}
		} else {
			u = types.DeviceUser{
				UID:       binary.LittleEndian.Uint16(rec[0:]),
				Privilege: rec[2],
				Password:  cstring(rec[3:11]),
				Name:      strings.TrimSpace(cstring(rec[11:35])),
				Card:      binary.LittleEndian.Uint32(rec[35:]),
				GroupID:   strings.TrimSpace(cstring(rec[40:47])),
				UserID:    cstring(rec[48:72]),
			}
		}
		if u.Name == "" {
			u.Name = "NN-" + u.UserID
		}
		out = append(out, u)
	}
	return out
}

// SetUserGroup rewrites the user record with a new access group and asks
// the terminal to reload its tables.
func (c *Client) SetUserGroup(ctx context.Context, u types.DeviceUser, group string) error {
	rec, err := encodeUser(u, group, c.userPacketSize)
	if err != nil {
		return device.Rejected("set user "+u.UserID, err)
	}
	if err := c.simple(ctx, "set user "+u.UserID, cmdUserWrq, rec); err != nil {
		return err
	}
	return c.refreshData(ctx)
}

func encodeUser(u types.DeviceUser, group string, width int) ([]byte, error) {
	userID := u.UserID
	if userID == "" {
		userID = strconv.Itoa(int(u.UID))
	}
	priv := u.Privilege
	if priv != privilegeDefault && priv != privilegeAdmin {
		priv = privilegeDefault
	}

	if width == 28 {
		g, err := strconv.Atoi(strings.TrimSpace(group))
		if err != nil {
			g = 0
		}
		id, err := strconv.ParseUint(userID, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("user id %q is not numeric", userID)
		}
		rec := make([]byte, 28)
		binary.LittleEndian.PutUint16(rec[0:], u.UID)
		rec[2] = priv
		copy(rec[3:8], u.Password)
		copy(rec[8:16], u.Name)
		binary.LittleEndian.PutUint32(rec[16:], u.Card)
		rec[21] = byte(g)
		binary.LittleEndian.PutUint32(rec[24:], uint32(id))
		return rec, nil
	}

	rec := make([]byte, 72)
	binary.LittleEndian.PutUint16(rec[0:], u.UID)
	rec[2] = priv
	copy(rec[3:11], u.Password)
	copy(rec[11:35], u.Name)
	binary.LittleEndian.PutUint32(rec[35:], u.Card)
	copy(rec[40:47], group)
	copy(rec[48:72], userID)
	return rec, nil
}
