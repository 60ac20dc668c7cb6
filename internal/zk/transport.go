package zk

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// transport moves whole protocol packets. recv returns the packet with any
// TCP frame stripped so the header is always at offset 0.
type transport interface {
	send(pkt []byte) error
	recv() ([]byte, error)
	setReadDeadline(t time.Time) error
	setDeadline(t time.Time) error
	maxChunk() int
	close() error
}

type udpTransport struct {
	conn net.Conn
	buf  []byte
}

func newUDPTransport(c net.Conn) *udpTransport {
	return &udpTransport{conn: c, buf: make([]byte, 64*1024)}
}

func (t *udpTransport) send(pkt []byte) error {
	_, err := t.conn.Write(pkt)
	return err
}

func (t *udpTransport) recv() ([]byte, error) {
	n, err := t.conn.Read(t.buf)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, t.buf[:n])
	return out, nil
}

func (t *udpTransport) setReadDeadline(d time.Time) error { return t.conn.SetReadDeadline(d) }
func (t *udpTransport) setDeadline(d time.Time) error     { return t.conn.SetDeadline(d) }
func (t *udpTransport) maxChunk() int                     { return maxChunkUDP }
func (t *udpTransport) close() error                      { return t.conn.Close() }

// tcpTransport prefixes each packet with magic words and a length.
type tcpTransport struct {
	conn net.Conn
	r    *bufio.Reader
}

func newTCPTransport(c net.Conn) *tcpTransport {
	return &tcpTransport{conn: c, r: bufio.NewReader(c)}
}

func frameTCP(pkt []byte) []byte {
	out := make([]byte, 8+len(pkt))
	binary.LittleEndian.PutUint16(out[0:], tcpMagic1)
	binary.LittleEndian.PutUint16(out[2:], tcpMagic2)
	binary.LittleEndian.PutUint32(out[4:], uint32(len(pkt)))
	copy(out[8:], pkt)
	return out
}

func (t *tcpTransport) send(pkt []byte) error {
	_, err := t.conn.Write(frameTCP(pkt))
	return err
}

func (t *tcpTransport) recv() ([]byte, error) {
	var top [8]byte
	if _, err := io.ReadFull(t.r, top[:]); err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint16(top[0:]) != tcpMagic1 || binary.LittleEndian.Uint16(top[2:]) != tcpMagic2 {
		return nil, fmt.Errorf("bad tcp frame magic % x", top[:4])
	}
	n := binary.LittleEndian.Uint32(top[4:])
	if n > 16<<20 {
		return nil, fmt.Errorf("tcp frame too large: %d bytes", n)
	}
	pkt := make([]byte, n)
	if _, err := io.ReadFull(t.r, pkt); err != nil {
		return nil, err
	}
	return pkt, nil
}

func (t *tcpTransport) setReadDeadline(d time.Time) error { return t.conn.SetReadDeadline(d) }
func (t *tcpTransport) setDeadline(d time.Time) error     { return t.conn.SetDeadline(d) }
func (t *tcpTransport) maxChunk() int                     { return maxChunkTCP }
func (t *tcpTransport) close() error                      { return t.conn.Close() }
