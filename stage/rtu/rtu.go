/*Package rtu implements a motion controller for focus drives on a
Modbus RTU bus.

Axis names are slave IDs, "1" through "247", so one Controller serves a
whole RS-485 drop with the usual axis-addressed interface.  The register
map is the stock one on our stepper drives:

	0x0000  position, counts, i32 across two registers
	0x0002  target, counts, i32; writing both words starts an absolute move
	0x0004  velocity, counts/s, i32
	0x0006  status; bit 0 enabled, bit 1 moving, bit 2 homed
	0x0007  control; write 0 disable, 1 enable, 2 home

Positions cross the API in engineering units and are scaled by
CountsPerUnit at the register boundary.
*/
package rtu

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/snksoft/crc"
	"github.com/tarm/serial"

	"github.com/opticslab/starbench/comm"
)

const (
	fnReadHolding   = 0x03
	fnWriteSingle   = 0x06
	fnWriteMultiple = 0x10

	regPosition = 0x0000
	regTarget   = 0x0002
	regVelocity = 0x0004
	regStatus   = 0x0006
	regControl  = 0x0007

	ctlDisable = 0
	ctlEnable  = 1
	ctlHome    = 2

	statusEnabled = 1 << 0
	statusMoving  = 1 << 1
)

// ErrBadCRC is returned when a response fails its CRC check.
var ErrBadCRC = errors.New("rtu: CRC mismatch in response")

// crcTable implements CRC-16/MODBUS: the 0x8005 polynomial reflected in
// both directions, initialized to all ones.
var crcTable = crc.NewTable(&crc.Parameters{
	Width:      16,
	Polynomial: 0x8005,
	ReflectIn:  true,
	ReflectOut: true,
	Init:       0xFFFF,
	FinalXor:   0x0,
})

// appendCRC appends the frame CRC, low byte first per the RTU spec.
func appendCRC(frame []byte) []byte {
	c := crcTable.InitCrc()
	c = crcTable.UpdateCrc(c, frame)
	sum := crcTable.CRC16(c)
	return append(frame, byte(sum), byte(sum>>8))
}

// checkCRC verifies the trailing CRC of a received frame.
func checkCRC(frame []byte) bool {
	if len(frame) < 4 {
		return false
	}
	body, trailer := frame[:len(frame)-2], frame[len(frame)-2:]
	c := crcTable.InitCrc()
	c = crcTable.UpdateCrc(c, body)
	sum := crcTable.CRC16(c)
	return trailer[0] == byte(sum) && trailer[1] == byte(sum>>8)
}

// ExceptionError is a Modbus exception response from a slave.
type ExceptionError struct {
	Function byte
	Code     byte
}

var exceptionNames = map[byte]string{
	1: "illegal function",
	2: "illegal data address",
	3: "illegal data value",
	4: "slave device failure",
}

func (e ExceptionError) Error() string {
	if s, ok := exceptionNames[e.Code]; ok {
		return fmt.Sprintf("rtu: function %#02x: exception %d: %s", e.Function, e.Code, s)
	}
	return fmt.Sprintf("rtu: function %#02x: exception %d", e.Function, e.Code)
}

func makeSerConf(addr string) *serial.Config {
	// 19200 8E1 is the Modbus default
	return &serial.Config{
		Name:        addr,
		Baud:        19200,
		Size:        8,
		Parity:      serial.ParityEven,
		StopBits:    serial.Stop1,
		ReadTimeout: 10 * time.Second,
	}
}

// Controller drives the slaves on one RTU bus.
type Controller struct {
	*comm.Device

	// CountsPerUnit scales engineering units to encoder counts.
	CountsPerUnit float64
}

// NewController returns a controller for the bus at addr, which is
// host:port when isSerial is false (an RS-485 to TCP bridge) and a
// device path otherwise.  countsPerUnit at or below zero means counts
// are the engineering unit.
func NewController(addr string, isSerial bool, countsPerUnit float64) *Controller {
	if countsPerUnit <= 0 {
		countsPerUnit = 1
	}
	d := comm.NewDevice(addr, isSerial, nil, makeSerConf(addr))
	return &Controller{Device: &d, CountsPerUnit: countsPerUnit}
}

func slaveID(axis string) (byte, error) {
	n, err := strconv.Atoi(axis)
	if err != nil || n < 1 || n > 247 {
		return 0, fmt.Errorf("rtu: axis %q is not a slave ID in 1..247", axis)
	}
	return byte(n), nil
}

// transact sends req and reads a response of respLen bytes, or the five
// byte exception frame when the slave flags the function code.
func (c *Controller) transact(req []byte, respLen int) ([]byte, error) {
	c.Lock()
	defer c.Unlock()
	if err := c.Open(); err != nil {
		return nil, err
	}
	if err := c.SendRaw(req); err != nil {
		return nil, err
	}
	head, err := c.RecvN(2)
	if err != nil {
		return nil, err
	}
	if head[1]&0x80 != 0 {
		rest, err := c.RecvN(3)
		if err != nil {
			return nil, err
		}
		frame := append(head, rest...)
		if !checkCRC(frame) {
			return nil, ErrBadCRC
		}
		return nil, ExceptionError{Function: head[1] &^ 0x80, Code: rest[0]}
	}
	rest, err := c.RecvN(respLen - 2)
	if err != nil {
		return nil, err
	}
	frame := append(head, rest...)
	if !checkCRC(frame) {
		return nil, ErrBadCRC
	}
	return frame, nil
}

// readRegisters reads count holding registers starting at addr.
func (c *Controller) readRegisters(slave byte, addr, count uint16) ([]uint16, error) {
	req := appendCRC([]byte{slave, fnReadHolding,
		byte(addr >> 8), byte(addr),
		byte(count >> 8), byte(count)})
	frame, err := c.transact(req, 5+2*int(count))
	if err != nil {
		return nil, err
	}
	if int(frame[2]) != 2*int(count) {
		return nil, fmt.Errorf("rtu: read of %d registers answered with %d bytes", count, frame[2])
	}
	out := make([]uint16, count)
	for i := range out {
		out[i] = uint16(frame[3+2*i])<<8 | uint16(frame[4+2*i])
	}
	return out, nil
}

// writeRegister writes one holding register.
func (c *Controller) writeRegister(slave byte, addr, value uint16) error {
	req := appendCRC([]byte{slave, fnWriteSingle,
		byte(addr >> 8), byte(addr),
		byte(value >> 8), byte(value)})
	_, err := c.transact(req, 8)
	return err
}

// writeRegisters writes consecutive holding registers in one transfer.
func (c *Controller) writeRegisters(slave byte, addr uint16, values []uint16) error {
	count := uint16(len(values))
	req := []byte{slave, fnWriteMultiple,
		byte(addr >> 8), byte(addr),
		byte(count >> 8), byte(count),
		byte(2 * count)}
	for _, v := range values {
		req = append(req, byte(v>>8), byte(v))
	}
	_, err := c.transact(appendCRC(req), 8)
	return err
}

func joinI32(hi, lo uint16) int32 {
	return int32(uint32(hi)<<16 | uint32(lo))
}

func splitI32(v int32) (hi, lo uint16) {
	u := uint32(v)
	return uint16(u >> 16), uint16(u)
}

func (c *Controller) toUnits(counts int32) float64 {
	return float64(counts) / c.CountsPerUnit
}

func (c *Controller) toCounts(pos float64) int32 {
	return int32(math.Round(pos * c.CountsPerUnit))
}

// GetPos returns the axis position.
func (c *Controller) GetPos(axis string) (float64, error) {
	slave, err := slaveID(axis)
	if err != nil {
		return 0, err
	}
	regs, err := c.readRegisters(slave, regPosition, 2)
	if err != nil {
		return 0, err
	}
	return c.toUnits(joinI32(regs[0], regs[1])), nil
}

// MoveAbs commands an absolute move by writing the target pair.
func (c *Controller) MoveAbs(axis string, pos float64) error {
	slave, err := slaveID(axis)
	if err != nil {
		return err
	}
	hi, lo := splitI32(c.toCounts(pos))
	return c.writeRegisters(slave, regTarget, []uint16{hi, lo})
}

// MoveRel commands a relative move.  The drives have no relative-move
// register, so this reads position and writes the sum.
func (c *Controller) MoveRel(axis string, delta float64) error {
	pos, err := c.GetPos(axis)
	if err != nil {
		return err
	}
	return c.MoveAbs(axis, pos+delta)
}

// Home references the axis.
func (c *Controller) Home(axis string) error {
	slave, err := slaveID(axis)
	if err != nil {
		return err
	}
	return c.writeRegister(slave, regControl, ctlHome)
}

// Enable energizes the drive.
func (c *Controller) Enable(axis string) error {
	slave, err := slaveID(axis)
	if err != nil {
		return err
	}
	return c.writeRegister(slave, regControl, ctlEnable)
}

// Disable de-energizes the drive.
func (c *Controller) Disable(axis string) error {
	slave, err := slaveID(axis)
	if err != nil {
		return err
	}
	return c.writeRegister(slave, regControl, ctlDisable)
}

func (c *Controller) status(axis string) (uint16, error) {
	slave, err := slaveID(axis)
	if err != nil {
		return 0, err
	}
	regs, err := c.readRegisters(slave, regStatus, 1)
	if err != nil {
		return 0, err
	}
	return regs[0], nil
}

// GetEnabled returns whether the drive is energized.
func (c *Controller) GetEnabled(axis string) (bool, error) {
	s, err := c.status(axis)
	return s&statusEnabled != 0, err
}

// Moving returns whether the axis is still traveling to its target.
func (c *Controller) Moving(axis string) (bool, error) {
	s, err := c.status(axis)
	return s&statusMoving != 0, err
}

// GetInPosition is the inverse of Moving.
func (c *Controller) GetInPosition(axis string) (bool, error) {
	moving, err := c.Moving(axis)
	return !moving, err
}

// GetVelocity returns the velocity setpoint in units/s.
func (c *Controller) GetVelocity(axis string) (float64, error) {
	slave, err := slaveID(axis)
	if err != nil {
		return 0, err
	}
	regs, err := c.readRegisters(slave, regVelocity, 2)
	if err != nil {
		return 0, err
	}
	return c.toUnits(joinI32(regs[0], regs[1])), nil
}

// SetVelocity changes the velocity setpoint in units/s.
func (c *Controller) SetVelocity(axis string, v float64) error {
	slave, err := slaveID(axis)
	if err != nil {
		return err
	}
	hi, lo := splitI32(c.toCounts(v))
	return c.writeRegisters(slave, regVelocity, []uint16{hi, lo})
}
