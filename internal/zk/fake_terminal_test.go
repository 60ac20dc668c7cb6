package zk

import (
	"encoding/binary"
	"net"
	"sync"
	"testing"
)

// fakeTerminal answers the subset of the protocol the client uses.
type fakeTerminal struct {
	t       *testing.T
	conn    *net.UDPConn
	commKey int
	session uint16

	mu      sync.Mutex
	users   [][]byte
	events  [][]byte
	cmds    []uint16
	writes  [][]byte
	unlocks []uint32
	acks    int
	// lateReply makes the terminal answer an unlock with a leftover
	// ACK_ERROR for the previous reply id before the real answer.
	lateReply bool
}

func startFakeTerminal(t *testing.T, commKey int, users ...[]byte) *fakeTerminal {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ft := &fakeTerminal{t: t, conn: conn, commKey: commKey, session: 0x2a2a, users: users}
	t.Cleanup(func() { _ = conn.Close() })
	go ft.serve()
	return ft
}

func (ft *fakeTerminal) port() int {
	return ft.conn.LocalAddr().(*net.UDPAddr).Port
}

func (ft *fakeTerminal) replyLate() {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.lateReply = true
}

func (ft *fakeTerminal) pushEvents(payloads ...[]byte) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.events = append(ft.events, payloads...)
}

func (ft *fakeTerminal) snapshot() (cmds []uint16, writes [][]byte, unlocks []uint32, acks int) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return append([]uint16(nil), ft.cmds...), append([][]byte(nil), ft.writes...), append([]uint32(nil), ft.unlocks...), ft.acks
}

func (ft *fakeTerminal) send(peer *net.UDPAddr, cmd, reply uint16, data []byte) {
	buf := make([]byte, headerSize+len(data))
	binary.LittleEndian.PutUint16(buf[0:], cmd)
	binary.LittleEndian.PutUint16(buf[4:], ft.session)
	binary.LittleEndian.PutUint16(buf[6:], reply)
	copy(buf[headerSize:], data)
	binary.LittleEndian.PutUint16(buf[2:], checksum(buf))
	_, _ = ft.conn.WriteToUDP(buf, peer)
}

func (ft *fakeTerminal) userData() []byte {
	var recs []byte
	for _, u := range ft.users {
		recs = append(recs, u...)
	}
	return append(le32(uint32(len(recs))), recs...)
}

func (ft *fakeTerminal) serve() {
	buf := make([]byte, 64*1024)
	for {
		n, peer, err := ft.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		h, ok := parseHeader(buf[:n])
		if !ok {
			continue
		}
		payload := append([]byte(nil), buf[headerSize:n]...)

		ft.mu.Lock()
		ft.cmds = append(ft.cmds, h.cmd)
		ft.mu.Unlock()

		switch h.cmd {
		case cmdConnect:
			code := ackOK
			if ft.commKey != 0 {
				code = ackUnauth
			}
			ft.send(peer, code, h.reply, nil)
		case cmdAuth:
			code := ackUnauth
			if string(payload) == string(makeCommKey(ft.commKey, ft.session)) {
				code = ackOK
			}
			ft.send(peer, code, h.reply, nil)
		case cmdGetFreeSizes:
			sizes := make([]byte, 92)
			ft.mu.Lock()
			binary.LittleEndian.PutUint32(sizes[16:], uint32(len(ft.users)))
			ft.mu.Unlock()
			ft.send(peer, ackOK, h.reply, sizes)
		case cmdPrepareBuffer:
			ft.mu.Lock()
			size := len(ft.userData())
			ft.mu.Unlock()
			ft.send(peer, ackOK, h.reply, append([]byte{0}, le32(uint32(size))...))
		case cmdReadBuffer:
			start := binary.LittleEndian.Uint32(payload[0:])
			size := binary.LittleEndian.Uint32(payload[4:])
			ft.mu.Lock()
			data := ft.userData()[start : start+size]
			ft.mu.Unlock()
			ft.send(peer, cmdPrepareData, h.reply, le32(size))
			ft.send(peer, cmdData, h.reply, data)
			ft.send(peer, ackOK, h.reply, nil)
		case cmdUserWrq:
			ft.mu.Lock()
			ft.writes = append(ft.writes, payload)
			ft.mu.Unlock()
			ft.send(peer, ackOK, h.reply, nil)
		case cmdUnlock:
			ft.mu.Lock()
			ft.unlocks = append(ft.unlocks, binary.LittleEndian.Uint32(payload))
			late := ft.lateReply
			ft.mu.Unlock()
			if late {
				ft.send(peer, ackError, h.reply-1, nil)
			}
			ft.send(peer, ackOK, h.reply, nil)
		case cmdRegEvent:
			ft.send(peer, ackOK, h.reply, nil)
			ft.mu.Lock()
			events := ft.events
			ft.events = nil
			ft.mu.Unlock()
			for _, ev := range events {
				ft.send(peer, cmdRegEvent, 0, ev)
			}
		case ackOK:
			ft.mu.Lock()
			ft.acks++
			ft.mu.Unlock()
		default:
			ft.send(peer, ackOK, h.reply, nil)
		}
	}
}

func user72(uid uint16, userID, name, group string) []byte {
	return mustEncode(encodeUser(userRecord(uid, userID, name), group, 72))
}

func mustEncode(b []byte, err error) []byte {
	if err != nil {
		panic(err)
	}
	return b
}

func event37(userID string, stamp [6]byte) []byte {
	rec := make([]byte, 37)
	copy(rec[:24], userID)
	rec[24] = 1 // status
	rec[25] = 0 // punch
	copy(rec[26:32], stamp[:])
	return rec
}
