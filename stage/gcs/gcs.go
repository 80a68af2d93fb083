/*Package gcs implements a motion controller speaking the PI General
Command Set, dialect 2.

GCS2 controllers answer queries with axis=value pairs:

	POS? A  ->  A=+0080.4106

and stay silent on motion commands.  When Handshaking is enabled the
driver queries ERR? after every silent command and surfaces nonzero codes
as Error values.

The controller can be reached over TCP, a serial port, or a USBTMC
interface.
*/
package gcs

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tarm/serial"

	"github.com/opticslab/starbench/comm"
	"github.com/opticslab/starbench/usbtmc"
)

// Error is a nonzero GCS2 controller error code.
type Error int

func (e Error) Error() string {
	if s, ok := errorCodes[int(e)]; ok {
		return fmt.Sprintf("gcs: error %d: %s", int(e), s)
	}
	return fmt.Sprintf("gcs: error %d", int(e))
}

// errorCodes translates the controller codes seen on the bench.  The
// full table in the GCS2 manual runs to several hundred entries.
var errorCodes = map[int]string{
	1:   "parameter syntax error",
	2:   "unknown command",
	5:   "unallowable move attempted on unreferenced axis, or move attempted with servo off",
	7:   "position out of limits",
	8:   "velocity out of limits",
	10:  "controller was stopped by command",
	15:  "invalid axis identifier",
	17:  "parameter out of range",
	23:  "invalid axis",
	54:  "unknown parameter",
	73:  "motion commands are not allowed when wave generator is active",
	212: "invalid axis identifier in command",
	301: "send buffer overflow",
	302: "voltage out of limits",
	303: "open-loop motion attempted when servo ON",
	304: "received command is too long",
}

func makeSerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        115200,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 10 * time.Minute,
	}
}

// Controller speaks GCS2 to a single PI controller, which may drive
// several axes.
type Controller struct {
	*comm.Device

	// Handshaking queries ERR? after each silent command.  Leave it on;
	// the controllers fail silently without it.
	Handshaking bool
}

// NewController returns a controller at addr, which is host:port when
// isSerial is false and a device path otherwise.
func NewController(addr string, isSerial bool) *Controller {
	terms := comm.Terminators{Tx: '\n', Rx: '\n'}
	d := comm.NewDevice(addr, isSerial, &terms, makeSerConf(addr))
	return &Controller{Device: &d, Handshaking: true}
}

// NewUSBController opens a controller on its USBTMC interface by vendor
// and product ID.
func NewUSBController(vid, pid uint16) (*Controller, error) {
	usb, err := usbtmc.NewDevice(vid, pid, '\n')
	if err != nil {
		return nil, err
	}
	terms := comm.Terminators{Tx: '\n', Rx: '\n'}
	d := comm.NewDevice("", false, &terms, nil)
	d.Conn = usb
	return &Controller{Device: &d, Handshaking: true}, nil
}

// parseValue extracts the value from an axis=value response.
func parseValue(resp []byte) (string, error) {
	s := strings.TrimSpace(string(resp))
	idx := strings.LastIndex(s, "=")
	if idx < 0 {
		return "", fmt.Errorf("gcs: response %q lacks an = separator", s)
	}
	return s[idx+1:], nil
}

func (c *Controller) readFloat(cmd string) (float64, error) {
	resp, err := c.Transact([]byte(cmd))
	if err != nil {
		return 0, err
	}
	val, err := parseValue(resp)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(val, 64)
}

func (c *Controller) readBool(cmd string) (bool, error) {
	resp, err := c.Transact([]byte(cmd))
	if err != nil {
		return false, err
	}
	val, err := parseValue(resp)
	if err != nil {
		return false, err
	}
	return val == "1", nil
}

// writeOnly sends a command that produces no response, then runs the
// ERR? handshake.
func (c *Controller) writeOnly(cmd string) error {
	if err := c.TransactWrite([]byte(cmd)); err != nil {
		return err
	}
	if !c.Handshaking {
		return nil
	}
	return c.Err()
}

// Err queries the controller error status and converts nonzero codes to
// Error values.
func (c *Controller) Err() error {
	resp, err := c.Transact([]byte("ERR?"))
	if err != nil {
		return err
	}
	code, err := strconv.Atoi(strings.TrimSpace(string(resp)))
	if err != nil {
		return fmt.Errorf("gcs: parsing ERR? response %q: %w", resp, err)
	}
	if code != 0 {
		return Error(code)
	}
	return nil
}

// Raw sends a command verbatim.  Queries, anything containing a
// question mark, return the response text; other commands return an
// empty string after the error handshake.  Raw implements
// generichttp/ascii.RawCommunicator.
func (c *Controller) Raw(cmd string) (string, error) {
	if strings.Contains(cmd, "?") {
		resp, err := c.Transact([]byte(cmd))
		return strings.TrimSpace(string(resp)), err
	}
	return "", c.writeOnly(cmd)
}

// GetPos returns the axis position.
func (c *Controller) GetPos(axis string) (float64, error) {
	return c.readFloat("POS? " + axis)
}

// MoveAbs commands an absolute move.
func (c *Controller) MoveAbs(axis string, pos float64) error {
	return c.writeOnly(fmt.Sprintf("MOV %s %.9f", axis, pos))
}

// MoveRel commands a relative move.
func (c *Controller) MoveRel(axis string, delta float64) error {
	return c.writeOnly(fmt.Sprintf("MVR %s %.9f", axis, delta))
}

// Home references the axis against its reference switch.
func (c *Controller) Home(axis string) error {
	return c.writeOnly("FRF " + axis)
}

// Enable turns the servo on.
func (c *Controller) Enable(axis string) error {
	return c.writeOnly(fmt.Sprintf("SVO %s 1", axis))
}

// Disable turns the servo off.
func (c *Controller) Disable(axis string) error {
	return c.writeOnly(fmt.Sprintf("SVO %s 0", axis))
}

// GetEnabled returns whether the servo is on.
func (c *Controller) GetEnabled(axis string) (bool, error) {
	return c.readBool("SVO? " + axis)
}

// GetVelocity returns the axis velocity setpoint.
func (c *Controller) GetVelocity(axis string) (float64, error) {
	return c.readFloat("VEL? " + axis)
}

// SetVelocity changes the axis velocity setpoint.
func (c *Controller) SetVelocity(axis string, v float64) error {
	return c.writeOnly(fmt.Sprintf("VEL %s %.9f", axis, v))
}

// GetInPosition reports whether the axis has settled onto its commanded
// position, the ONT? query.
func (c *Controller) GetInPosition(axis string) (bool, error) {
	return c.readBool("ONT? " + axis)
}

// WaitSettled polls GetInPosition every interval until the axis settles
// or timeout elapses.
func (c *Controller) WaitSettled(axis string, interval, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		ont, err := c.GetInPosition(axis)
		if err != nil {
			return err
		}
		if ont {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("gcs: axis %s did not settle within %v", axis, timeout)
		}
		time.Sleep(interval)
	}
}
