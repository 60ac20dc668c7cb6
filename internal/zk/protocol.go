// Package zk speaks the ZKTeco terminal protocol: an 8-byte header with a
// ones-complement checksum over UDP, optionally wrapped in a length-prefixed
// frame over TCP.
package zk

import (
	"encoding/binary"
	"time"
)

const (
	cmdConnect       uint16 = 1000
	cmdExit          uint16 = 1001
	cmdEnableDevice  uint16 = 1002
	cmdDisableDevice uint16 = 1003
	cmdRefreshData   uint16 = 1013
	cmdAuth          uint16 = 1102
	cmdUserWrq       uint16 = 8
	cmdUserTempRrq   uint16 = 9
	cmdUnlock        uint16 = 31
	cmdGetFreeSizes  uint16 = 50
	cmdStartVerify   uint16 = 60
	cmdCancelCapture uint16 = 62
	cmdRegEvent      uint16 = 500

	cmdPrepareData   uint16 = 1500
	cmdData          uint16 = 1501
	cmdFreeData      uint16 = 1502
	cmdPrepareBuffer uint16 = 1503
	cmdReadBuffer    uint16 = 1504

	ackOK     uint16 = 2000
	ackError  uint16 = 2001
	ackUnauth uint16 = 2005
)

const (
	ushrtMax = 65535

	headerSize = 8
	efAttLog   = 1
	fctUser    = 5

	privilegeDefault = 0
	privilegeAdmin   = 14

	tcpMagic1 = 0x5050
	tcpMagic2 = 0x7D82
)

// Largest chunk requested per READ_BUFFER.
const (
	maxChunkUDP = 16 * 1024
	maxChunkTCP = 0xFFC0
)

func okCode(code uint16) bool {
	return code == ackOK || code == cmdPrepareData || code == cmdData
}

// checksum is the terminal's 16-bit ones-complement style sum over p.
func checksum(p []byte) uint16 {
	sum := 0
	for len(p) > 1 {
		sum += int(binary.LittleEndian.Uint16(p))
		p = p[2:]
		if sum > ushrtMax {
			sum -= ushrtMax
		}
	}
	if len(p) == 1 {
		sum += int(p[0])
	}
	for sum > ushrtMax {
		sum -= ushrtMax
	}
	sum = ^sum
	for sum < 0 {
		sum += ushrtMax
	}
	return uint16(sum)
}

// packet builds header+payload. The checksum covers the header carrying
// reply; the header sent carries reply+1.
func packet(cmd, session, reply uint16, payload []byte) []byte {
	buf := make([]byte, headerSize+len(payload))
	binary.LittleEndian.PutUint16(buf[0:], cmd)
	binary.LittleEndian.PutUint16(buf[4:], session)
	binary.LittleEndian.PutUint16(buf[6:], reply)
	copy(buf[headerSize:], payload)

	binary.LittleEndian.PutUint16(buf[2:], checksum(buf))

	next := uint32(reply) + 1
	if next >= ushrtMax {
		next -= ushrtMax
	}
	binary.LittleEndian.PutUint16(buf[6:], uint16(next))
	return buf
}

type header struct {
	cmd      uint16
	checksum uint16
	session  uint16
	reply    uint16
}

func parseHeader(b []byte) (header, bool) {
	if len(b) < headerSize {
		return header{}, false
	}
	return header{
		cmd:      binary.LittleEndian.Uint16(b[0:]),
		checksum: binary.LittleEndian.Uint16(b[2:]),
		session:  binary.LittleEndian.Uint16(b[4:]),
		reply:    binary.LittleEndian.Uint16(b[6:]),
	}, true
}

// makeCommKey scrambles the numeric comm key with the session id the way
// the terminal expects in CMD_AUTH.
func makeCommKey(key int, session uint16) []byte {
	var k uint32
	for i := 0; i < 32; i++ {
		k <<= 1
		if uint32(key)&(1<<i) != 0 {
			k |= 1
		}
	}
	k += uint32(session)

	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, k)
	b[0] ^= 'Z'
	b[1] ^= 'K'
	b[2] ^= 'S'
	b[3] ^= 'O'
	b[0], b[1], b[2], b[3] = b[2], b[3], b[0], b[1]

	const ticks = 50
	return []byte{b[0] ^ ticks, b[1] ^ ticks, ticks, b[3] ^ ticks}
}

// decodeTime unpacks the 6-byte y/m/d h:m:s stamp used in live events.
// An impossible date yields the zero time.
func decodeTime(b []byte) time.Time {
	if len(b) < 6 {
		return time.Time{}
	}
	year, month, day := 2000+int(b[0]), time.Month(b[1]), int(b[2])
	hour, minute, sec := int(b[3]), int(b[4]), int(b[5])
	t := time.Date(year, month, day, hour, minute, sec, 0, time.Local)
	if t.Month() != month || t.Day() != day || t.Hour() != hour || t.Minute() != minute || t.Second() != sec {
		return time.Time{}
	}
	return t
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

// cstring returns b up to the first NUL.
func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
