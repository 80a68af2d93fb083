// Package comm provides the remote device plumbing shared by the stage
// drivers: a connection to a serial or TCP endpoint with retrying dial,
// terminator-framed ASCII transactions, and length-framed binary reads.
//
// Drivers embed *Device and speak their dialect on top of it:
//
//	type Controller struct {
//		*comm.Device
//	}
//
//	func (c *Controller) ReadPos() (float64, error) {
//		resp, err := c.Transact([]byte("POS? A"))
//		if err != nil {
//			return 0, err
//		}
//		return strconv.ParseFloat(string(resp), 64)
//	}
package comm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	// ErrNoSerialConf is returned when a serial device has no serial.Config.
	ErrNoSerialConf = errors.New("comm: serial device has no serial config")

	// ErrNotConnected is returned when IO is attempted before Open.
	ErrNotConnected = errors.New("comm: not connected to remote")

	// ErrTerminatorNotFound is returned when a response does not end in the
	// expected terminator.
	ErrTerminatorNotFound = errors.New("comm: termination byte not found in response")
)

// Terminators holds the transmit and receive framing bytes for ASCII
// protocols.
type Terminators struct {
	Tx byte
	Rx byte
}

// Device is a connection to a remote instrument, serial or TCP.  It is
// concurrent safe; the embedded mutex serializes transactions so two HTTP
// handlers cannot interleave command and response on the wire.
type Device struct {
	sync.Mutex

	// Addr is a host:port for TCP devices or a filesystem path for serial
	// ones.
	Addr string

	// IsSerial selects serial over TCP.  Serial devices must carry a
	// SerialConfig.
	IsSerial bool

	// Terms frames ASCII sends and receives.
	Terms Terminators

	// SerialConfig is handed to serial.OpenPort for serial devices.
	SerialConfig *serial.Config

	// Timeout bounds connect, read, and write on TCP connections.  Serial
	// read timeouts come from SerialConfig.
	Timeout time.Duration

	// Conn is the underlying connection, nil when closed.
	Conn io.ReadWriteCloser
}

// NewDevice returns a device with carriage return terminators and a 3
// second timeout unless overridden.  terms may be nil to accept the
// default.
func NewDevice(addr string, isSerial bool, terms *Terminators, sconf *serial.Config) Device {
	t := Terminators{Tx: '\r', Rx: '\r'}
	if terms != nil {
		t = *terms
	}
	return Device{
		Addr:         addr,
		IsSerial:     isSerial,
		Terms:        t,
		SerialConfig: sconf,
		Timeout:      3 * time.Second,
	}
}

// Open establishes the connection if it is not already up.  Dialing
// retries with exponential backoff; some embedded controllers refuse
// connections for a moment after a previous client disconnects and do not
// like being connection thrashed.
func (d *Device) Open() error {
	if d.Conn != nil {
		return nil
	}
	err := backoff.Retry(d.dial, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock,
	})
	if err != nil {
		return fmt.Errorf("comm: connecting to %s: %w", d.Addr, err)
	}
	return nil
}

func (d *Device) dial() error {
	var (
		conn io.ReadWriteCloser
		err  error
	)
	if d.IsSerial {
		if d.SerialConfig == nil {
			return backoff.Permanent(ErrNoSerialConf)
		}
		conn, err = serial.OpenPort(d.SerialConfig)
	} else {
		conn, err = TCPSetup(d.Addr, d.Timeout)
	}
	if err != nil {
		return err
	}
	d.Conn = conn
	return nil
}

// Close tears down the connection.  The device may be reopened.
func (d *Device) Close() error {
	if d.Conn == nil {
		return nil
	}
	err := d.Conn.Close()
	d.Conn = nil
	return err
}

func (d *Device) deadline() {
	if c, ok := d.Conn.(net.Conn); ok {
		c.SetDeadline(time.Now().Add(d.Timeout))
	}
}

// Send writes b followed by the Tx terminator.
func (d *Device) Send(b []byte) error {
	if d.Conn == nil {
		return ErrNotConnected
	}
	d.deadline()
	_, err := d.Conn.Write(append(b, d.Terms.Tx))
	return err
}

// SendRaw writes b with no terminator, for binary protocols that frame by
// length.
func (d *Device) SendRaw(b []byte) error {
	if d.Conn == nil {
		return ErrNotConnected
	}
	d.deadline()
	_, err := d.Conn.Write(b)
	return err
}

// Recv reads a response up to and stripping the Rx terminator.
func (d *Device) Recv() ([]byte, error) {
	if d.Conn == nil {
		return nil, ErrNotConnected
	}
	d.deadline()
	buf, err := bufio.NewReader(d.Conn).ReadBytes(d.Terms.Rx)
	if err != nil {
		return nil, err
	}
	if !bytes.HasSuffix(buf, []byte{d.Terms.Rx}) {
		return buf, ErrTerminatorNotFound
	}
	return buf[:len(buf)-1], nil
}

// RecvN reads exactly n bytes, for binary protocols that frame by length.
func (d *Device) RecvN(n int) ([]byte, error) {
	if d.Conn == nil {
		return nil, ErrNotConnected
	}
	d.deadline()
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.Conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// SendRecv sends b and returns the terminator-stripped response.
func (d *Device) SendRecv(b []byte) ([]byte, error) {
	if err := d.Send(b); err != nil {
		return nil, err
	}
	return d.Recv()
}

// Transact is the common driver path: take the device lock, ensure the
// connection is open, then SendRecv.
func (d *Device) Transact(b []byte) ([]byte, error) {
	d.Lock()
	defer d.Unlock()
	if err := d.Open(); err != nil {
		return nil, err
	}
	return d.SendRecv(b)
}

// TransactWrite is Transact for commands that produce no response.
func (d *Device) TransactWrite(b []byte) error {
	d.Lock()
	defer d.Unlock()
	if err := d.Open(); err != nil {
		return err
	}
	return d.Send(b)
}

// TCPSetup opens a TCP connection with a deadline on connect, read, and
// write.
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}
