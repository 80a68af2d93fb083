/*Package usbtmc implements bulk transfer framing for USB Test and
Measurement Class instruments.

A Device satisfies io.ReadWriteCloser, so it can stand in for the TCP or
serial connection inside a comm.Device.  Motion controllers that expose a
USBTMC interface are driven over it with the same ASCII dialect they
speak on their other ports.

This is a minimum viable implementation of the bulk endpoints.  It does
not support multi-transfer messages and assumes each datagram fits in the
remote's buffer.
*/
package usbtmc

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/google/gousb"
)

const (
	// headerSize is the length of a bulk transfer header, USBTMC Table 1.
	headerSize = 12

	// alignment pads bulk out transfers to a multiple of 4 bytes.
	alignment = 4

	// readBuf bounds a single bulk in transfer.
	readBuf = 1500

	reserved = 0x00

	msgDevDepOut       = 0x01
	msgRequestDevDepIn = 0x02
)

// bTagGen produces the per-transfer bTag bytes, which increment and skip
// zero, USBTMC Table 1 offset 1.
type bTagGen struct {
	sync.Mutex
	value byte
}

func (b *bTagGen) next() byte {
	b.Lock()
	defer b.Unlock()
	b.value++
	if b.value == 0 {
		b.value = 1
	}
	return b.value
}

// invbTag is the bitwise inverse of a bTag, USBTMC Table 1 offset 2.
func invbTag(b byte) byte {
	return b ^ 0xff
}

// encBulkOutHeader encodes a DEV_DEP_MSG_OUT header, USBTMC Table 3.
// The EOM bit is always set; each Write is a complete message.
func encBulkOutHeader(tag byte, datalen int) [headerSize]byte {
	out := [headerSize]byte{}
	out[0] = msgDevDepOut
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(datalen))
	out[8] = 0x01 // EOM
	out[9] = reserved
	out[10] = reserved
	out[11] = reserved
	return out
}

// encBulkInHeader encodes a REQUEST_DEV_DEP_MSG_IN header, USBTMC Table
// 4.  A nil terminator disables termination on a character.
func encBulkInHeader(tag byte, bufsize int, terminator *byte) [headerSize]byte {
	out := [headerSize]byte{}
	out[0] = msgRequestDevDepIn
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(bufsize))
	if terminator != nil {
		out[8] = 0x02 // TermCharEnabled
		out[9] = *terminator
	}
	out[10] = reserved
	out[11] = reserved
	return out
}

// Device is an open USBTMC instrument.
type Device struct {
	tagger  *bTagGen
	ctx     *gousb.Context
	device  *gousb.Device
	iface   *gousb.Interface
	done    func()
	in      *gousb.InEndpoint
	out     *gousb.OutEndpoint
	term    byte
	residue []byte
}

// NewDevice opens the instrument with the given vendor and product ID and
// claims bulk endpoint 2 in both directions.  term is the read
// terminator, usually '\n'.
func NewDevice(vid, pid uint16, term byte) (*Device, error) {
	d := &Device{tagger: &bTagGen{}, ctx: gousb.NewContext(), term: term}
	var err error
	d.device, err = d.ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		d.ctx.Close()
		return nil, err
	}
	if d.device == nil {
		d.ctx.Close()
		return nil, fmt.Errorf("usbtmc: no device with VID:PID %04x:%04x", vid, pid)
	}
	if err = d.device.SetAutoDetach(true); err != nil {
		d.Close()
		return nil, err
	}
	d.iface, d.done, err = d.device.DefaultInterface()
	if err != nil {
		d.Close()
		return nil, err
	}
	if d.in, err = d.iface.InEndpoint(2); err != nil {
		d.Close()
		return nil, err
	}
	if d.out, err = d.iface.OutEndpoint(2); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// Read issues a bulk in request and copies the payload into p.  Payload
// beyond len(p) is buffered for the next call.
func (d *Device) Read(p []byte) (int, error) {
	if len(d.residue) > 0 {
		n := copy(p, d.residue)
		d.residue = d.residue[n:]
		return n, nil
	}
	hdr := encBulkInHeader(d.tagger.next(), readBuf, &d.term)
	n, err := d.out.Write(hdr[:])
	if err != nil {
		return 0, err
	}
	if n != headerSize {
		return 0, fmt.Errorf("usbtmc: wrote %d of %d header bytes for read request", n, headerSize)
	}
	buf := make([]byte, readBuf)
	n, err = d.in.Read(buf)
	if err != nil {
		return 0, err
	}
	if n < headerSize {
		return 0, fmt.Errorf("usbtmc: received %d bytes, need at least %d to form header", n, headerSize)
	}
	// Table 9: TransferSize excludes the header and any alignment bytes.
	size := int(binary.LittleEndian.Uint32(buf[4:8]))
	data := buf[headerSize:n]
	if size < len(data) {
		data = data[:size]
	}
	m := copy(p, data)
	d.residue = append(d.residue[:0], data[m:]...)
	return m, nil
}

// Write sends p as a single DEV_DEP_MSG_OUT transfer, padded to the 4
// byte alignment the standard requires.
func (d *Device) Write(p []byte) (int, error) {
	hdr := encBulkOutHeader(d.tagger.next(), len(p))
	buf := append(hdr[:], p...)
	if residual := len(buf) % alignment; residual > 0 {
		buf = append(buf, make([]byte, alignment-residual)...)
	}
	if _, err := d.out.Write(buf); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close releases the interface and the device.
func (d *Device) Close() error {
	if d.done != nil {
		d.done()
		d.done = nil
	}
	var devErr, ctxErr error
	if d.device != nil {
		devErr = d.device.Close()
		d.device = nil
	}
	if d.ctx != nil {
		ctxErr = d.ctx.Close()
		d.ctx = nil
	}
	if devErr != nil {
		return devErr
	}
	return ctxErr
}
