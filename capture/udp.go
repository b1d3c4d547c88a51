package capture

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync/atomic"
	"time"
)

// corHeaderSize is the size, in bytes, of the "cor" packet header fields
// this producer reads off the wire (seq0, time_tag, chan0, nchan, navg,
// nsrc), packed big-endian ahead of the visibility payload.
const corHeaderSize = 32

// maxDatagram is the correlator's fixed UDP MTU (spec.md §6).
const maxDatagram = 9000

// UDPPacketSource is the default PacketSource, reading "cor"-framed
// datagrams directly off a UDP socket.
type UDPPacketSource struct {
	conn      *net.UDPConn
	bytesRead int64
}

// ListenUDP binds addr:port with the 11-second receive timeout spec.md §6
// requires.
func ListenUDP(addr string, port int) (*UDPPacketSource, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", addr, port))
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	return &UDPPacketSource{conn: conn}, nil
}

// ReadPacket implements PacketSource.
func (u *UDPPacketSource) ReadPacket() (CorPacket, error) {
	buf := make([]byte, maxDatagram)
	if err := u.conn.SetReadDeadline(time.Now().Add(11 * time.Second)); err != nil {
		return CorPacket{}, err
	}
	n, err := u.conn.Read(buf)
	if err != nil {
		return CorPacket{}, err
	}
	if n < corHeaderSize {
		return CorPacket{}, fmt.Errorf("capture: short packet (%d bytes)", n)
	}

	seq0 := int64(binary.BigEndian.Uint64(buf[0:8]))
	timeTag := int64(binary.BigEndian.Uint64(buf[8:16]))
	chan0 := int(binary.BigEndian.Uint32(buf[16:20]))
	nchan := int(binary.BigEndian.Uint32(buf[20:24]))
	navg := int64(binary.BigEndian.Uint32(buf[24:28]))
	nsrc := int(binary.BigEndian.Uint32(buf[28:32]))

	payload := make([]byte, n-corHeaderSize)
	copy(payload, buf[corHeaderSize:n])
	atomic.AddInt64(&u.bytesRead, int64(n))

	return CorPacket{
		Seq0:    seq0,
		TimeTag: timeTag,
		Chan0:   chan0,
		NChan:   nchan,
		NAvg:    navg,
		NSrc:    nsrc,
		Payload: payload,
	}, nil
}

// Close implements PacketSource.
func (u *UDPPacketSource) Close() error {
	return u.conn.Close()
}

// BytesRead returns the cumulative number of bytes read off the wire,
// for ConnRxStatsSource's fallback fill-level signal.
func (u *UDPPacketSource) BytesRead() int64 {
	return atomic.LoadInt64(&u.bytesRead)
}
