package comm

import (
	"bufio"
	"errors"
	"net"
	"testing"
	"time"
)

// tcpEchoServer answers each CR-terminated line with the same line.  It
// stops when the listener is closed.
func tcpEchoServer(t *testing.T) net.Listener {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				r := bufio.NewReader(c)
				for {
					line, err := r.ReadBytes('\r')
					if err != nil {
						return
					}
					c.Write(line)
				}
			}(conn)
		}
	}()
	return l
}

func TestDeviceSendRecv(t *testing.T) {
	l := tcpEchoServer(t)
	defer l.Close()

	d := NewDevice(l.Addr().String(), false, nil, nil)
	defer d.Close()
	if err := d.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	resp, err := d.SendRecv([]byte("POS? A"))
	if err != nil {
		t.Fatalf("send/recv: %v", err)
	}
	if string(resp) != "POS? A" {
		t.Errorf("expected echo of POS? A, got %q", resp)
	}
}

func TestDeviceTransactOpensOnDemand(t *testing.T) {
	l := tcpEchoServer(t)
	defer l.Close()

	d := NewDevice(l.Addr().String(), false, nil, nil)
	defer d.Close()
	resp, err := d.Transact([]byte("haipower"))
	if err != nil {
		t.Fatalf("transact: %v", err)
	}
	if string(resp) != "haipower" {
		t.Errorf("expected echo of haipower, got %q", resp)
	}
	if d.Conn == nil {
		t.Error("expected Transact to leave the connection open")
	}
}

func TestDeviceOpenIdempotent(t *testing.T) {
	l := tcpEchoServer(t)
	defer l.Close()

	d := NewDevice(l.Addr().String(), false, nil, nil)
	defer d.Close()
	if err := d.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	conn := d.Conn
	if err := d.Open(); err != nil {
		t.Fatalf("second open: %v", err)
	}
	if d.Conn != conn {
		t.Error("expected second Open to reuse the connection")
	}
}

func TestDeviceIONotConnected(t *testing.T) {
	d := NewDevice("127.0.0.1:1", false, nil, nil)
	if err := d.Send([]byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected from Send, got %v", err)
	}
	if _, err := d.Recv(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected from Recv, got %v", err)
	}
	if _, err := d.RecvN(4); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected from RecvN, got %v", err)
	}
}

func TestDeviceCustomTerminators(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		line, err := r.ReadBytes('\n')
		if err != nil {
			return
		}
		if string(line) != "*IDN?\n" {
			conn.Write([]byte("bad\n"))
			return
		}
		conn.Write([]byte("starbench,sim\n"))
	}()

	terms := Terminators{Tx: '\n', Rx: '\n'}
	d := NewDevice(l.Addr().String(), false, &terms, nil)
	defer d.Close()
	resp, err := d.Transact([]byte("*IDN?"))
	if err != nil {
		t.Fatalf("transact: %v", err)
	}
	if string(resp) != "starbench,sim" {
		t.Errorf("expected starbench,sim, got %q", resp)
	}
}

func TestDeviceSendRawRecvN(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4)
		if _, err := conn.Read(buf); err != nil {
			return
		}
		conn.Write([]byte{buf[0], buf[1], 0xAB, 0xCD})
	}()

	d := NewDevice(l.Addr().String(), false, nil, nil)
	defer d.Close()
	if err := d.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := d.SendRaw([]byte{0x01, 0x03, 0x00, 0x00}); err != nil {
		t.Fatalf("send raw: %v", err)
	}
	resp, err := d.RecvN(4)
	if err != nil {
		t.Fatalf("recv n: %v", err)
	}
	if len(resp) != 4 || resp[0] != 0x01 || resp[3] != 0xCD {
		t.Errorf("expected 4-byte framed response, got % x", resp)
	}
}

func TestDeviceSerialWithoutConfig(t *testing.T) {
	d := NewDevice("/dev/ttyUSB0", true, nil, nil)
	err := d.Open()
	if !errors.Is(err, ErrNoSerialConf) {
		t.Errorf("expected ErrNoSerialConf, got %v", err)
	}
}

func TestNewDeviceDefaults(t *testing.T) {
	d := NewDevice("127.0.0.1:4000", false, nil, nil)
	if d.Terms.Tx != '\r' || d.Terms.Rx != '\r' {
		t.Errorf("expected CR terminators by default, got %+v", d.Terms)
	}
	if d.Timeout != 3*time.Second {
		t.Errorf("expected 3s default timeout, got %v", d.Timeout)
	}
}
