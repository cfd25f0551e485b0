package dnsutils

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/miekg/dns"

	"github.com/spaghettinuum/spagh/pkg/pool"
)

// ReadRawMsgFromTCP reads a length-prefixed DNS message from c into a
// pooled buffer. The caller must release the returned buffer.
func ReadRawMsgFromTCP(c io.Reader) (*pool.Buffer, int, error) {
	var lenBuf [2]byte
	n, err := io.ReadFull(c, lenBuf[:])
	if err != nil {
		return nil, n, err
	}

	length := binary.BigEndian.Uint16(lenBuf[:])
	if length < 12 {
		return nil, n, fmt.Errorf("invalid msg length %d", length)
	}

	buf := pool.GetBuf(int(length))
	b := buf.Bytes()[:length]
	n2, err := io.ReadFull(c, b)
	n += n2
	if err != nil {
		buf.Release()
		return nil, n, err
	}
	return buf, n, nil
}

// ReadMsgFromTCP reads and unpacks a length-prefixed DNS message.
func ReadMsgFromTCP(c io.Reader) (*dns.Msg, int, error) {
	buf, n, err := ReadRawMsgFromTCP(c)
	if err != nil {
		return nil, n, err
	}
	defer buf.Release()

	m := new(dns.Msg)
	if err := m.Unpack(buf.Bytes()[:n-2]); err != nil {
		return nil, n, err
	}
	return m, n, nil
}

// WriteRawMsgToTCP writes a packed DNS message with its two byte
// length prefix in a single write.
func WriteRawMsgToTCP(c io.Writer, b []byte) (int, error) {
	if len(b) > dns.MaxMsgSize {
		return 0, fmt.Errorf("msg length %d is too big", len(b))
	}

	buf := pool.GetBuf(len(b) + 2)
	defer buf.Release()

	wb := buf.Bytes()[:len(b)+2]
	binary.BigEndian.PutUint16(wb[:2], uint16(len(b)))
	copy(wb[2:], b)
	return c.Write(wb)
}

// WriteMsgToTCP packs m and writes it with the TCP length prefix.
func WriteMsgToTCP(c io.Writer, m *dns.Msg) (int, error) {
	b, buf, err := pool.PackBuffer(m)
	if err != nil {
		return 0, err
	}
	defer buf.Release()
	return WriteRawMsgToTCP(c, b)
}
