package emu

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/student/dmgcore/internal/bus"
	"github.com/student/dmgcore/internal/cart"
	"github.com/student/dmgcore/internal/cpu"
)

// Buttons reflects the instantaneous state of the eight joypad inputs.
type Buttons struct {
	A, B, Start, Select   bool
	Up, Down, Left, Right bool
}

// Machine owns one CPU/Bus/PPU/APU/Cartridge instance and drives it frame by
// frame on behalf of a host (cmd/gbemu's headless runner or internal/ui).
type Machine struct {
	cfg Config

	cpu *cpu.CPU
	bus *bus.Bus

	romPath  string
	romTitle string
	bootROM  []byte

	serialOut io.Writer
}

// New constructs a Machine with no cartridge loaded; call LoadCartridge or
// LoadROMFromFile before stepping frames.
func New(cfg Config) *Machine {
	m := &Machine{cfg: cfg}
	m.resetWith(cart.NewROMOnly(nil))
	return m
}

// resetWith builds a fresh Bus/CPU pair around the given cartridge and resets
// to DMG post-boot register state (or boot-ROM execution, if one is loaded).
func (m *Machine) resetWith(c cart.Cartridge) {
	m.bus = bus.NewWithCartridge(c)
	m.cpu = cpu.New(m.bus)
	if len(m.bootROM) >= 0x100 {
		m.bus.SetBootROM(m.bootROM)
		m.cpu.SetPC(0x0000)
	} else {
		m.cpu.ResetNoBoot()
		m.cpu.SetPC(0x0100)
	}
}

// LoadCartridge wires a parsed ROM image (and optional boot ROM) into a fresh
// Machine state. The cartridge type is chosen from the ROM header.
func (m *Machine) LoadCartridge(rom []byte, boot []byte) error {
	h, err := cart.ParseHeader(rom)
	if err != nil {
		return err
	}
	if len(boot) >= 0x100 {
		m.bootROM = boot
	}
	m.romTitle = h.Title
	m.resetWith(cart.NewCartridge(rom))
	return nil
}

// LoadROMFromFile reads path, loads it as the active cartridge, and records
// the path for battery-save placement and window-title purposes.
func (m *Machine) LoadROMFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := m.LoadCartridge(data, m.bootROM); err != nil {
		return err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	m.romPath = abs
	return nil
}

// SetBootROM installs a boot ROM image to be mapped at reset until the guest
// disables it via the 0xFF50 register.
func (m *Machine) SetBootROM(data []byte) {
	if len(data) >= 0x100 {
		m.bootROM = data
	}
}

// ResetPostBoot reinitializes the current cartridge with DMG post-boot
// register state, skipping boot ROM execution.
func (m *Machine) ResetPostBoot() {
	saved := m.bootROM
	m.bootROM = nil
	m.resetWith(m.bus.Cart())
	m.bootROM = saved
}

// ResetWithBoot reinitializes the current cartridge and, if a boot ROM is
// loaded, executes it from 0x0000 on the next StepFrame.
func (m *Machine) ResetWithBoot() {
	m.resetWith(m.bus.Cart())
}

// SetUseFetcherBG is a rendering-path toggle retained for host compatibility;
// this PPU always renders via its per-scanline compositor.
func (m *Machine) SetUseFetcherBG(bool) {}

// SetSerialWriter attaches a sink for bytes written to the serial port
// (SB/SC), used by headless test-ROM harnesses to capture Blargg output.
func (m *Machine) SetSerialWriter(w io.Writer) {
	m.serialOut = w
	m.bus.SetSerialWriter(w)
}

// SetButtons applies the host's current joypad state for the next frame.
func (m *Machine) SetButtons(b Buttons) {
	var mask byte
	if b.Right {
		mask |= bus.JoypRight
	}
	if b.Left {
		mask |= bus.JoypLeft
	}
	if b.Up {
		mask |= bus.JoypUp
	}
	if b.Down {
		mask |= bus.JoypDown
	}
	if b.A {
		mask |= bus.JoypA
	}
	if b.B {
		mask |= bus.JoypB
	}
	if b.Select {
		mask |= bus.JoypSelectBtn
	}
	if b.Start {
		mask |= bus.JoypStart
	}
	m.bus.SetJoypadState(mask)
}

// StepFrame runs the machine until the PPU signals it has entered VBlank,
// i.e. one full ~70224-t-cycle frame; the new framebuffer is then available
// via Framebuffer.
func (m *Machine) StepFrame() {
	m.runOneFrame()
}

// StepFrameNoRender behaves like StepFrame; the PPU renders every scanline
// regardless, so there is no meaningfully cheaper path, but callers (frame
// skip, serial-only test harnesses) use this name to express intent.
func (m *Machine) StepFrameNoRender() {
	m.runOneFrame()
}

func (m *Machine) runOneFrame() {
	if m.checkIllegal() {
		return
	}
	for {
		m.cpu.Step()
		if m.bus.PPU().ConsumeVBlank() {
			return
		}
		if m.checkIllegal() {
			return
		}
	}
}

func (m *Machine) checkIllegal() bool {
	if op, addr, ok := m.cpu.IllegalTrap(); ok {
		if m.cfg.Trace {
			log.Printf("illegal opcode 0x%02X at 0x%04X", op, addr)
		}
		return true
	}
	return false
}

// Framebuffer returns the RGBA 160x144 pixel buffer for the most recently
// completed frame.
func (m *Machine) Framebuffer() []byte { return m.bus.PPU().Framebuffer() }

// ROMPath returns the absolute path the active ROM was loaded from, or "" if
// the machine was constructed without going through LoadROMFromFile.
func (m *Machine) ROMPath() string { return m.romPath }

// ROMTitle returns the cartridge header title of the active ROM.
func (m *Machine) ROMTitle() string { return m.romTitle }

// SaveBattery returns the active cartridge's external RAM if it implements
// battery-backed persistence, for writing to a sibling .sav file.
func (m *Machine) SaveBattery() ([]byte, bool) {
	bb, ok := m.bus.Cart().(cart.BatteryBacked)
	if !ok {
		return nil, false
	}
	data := bb.SaveRAM()
	return data, data != nil
}

// LoadBattery restores previously saved external RAM into the active
// cartridge, if it supports battery-backed persistence.
func (m *Machine) LoadBattery(data []byte) bool {
	bb, ok := m.bus.Cart().(cart.BatteryBacked)
	if !ok {
		return false
	}
	bb.LoadRAM(data)
	return true
}

// APUBufferedStereo returns the number of stereo sample frames currently
// queued for playback.
func (m *Machine) APUBufferedStereo() int { return m.bus.APU().StereoAvailable() }

// APUPullStereo drains up to max interleaved [L,R,...] int16 stereo frames.
func (m *Machine) APUPullStereo(max int) []int16 { return m.bus.APU().PullStereo(max) }

// APUClearAudioLatency discards all buffered audio, used when pausing,
// opening the menu, or resyncing after fast-forward.
func (m *Machine) APUClearAudioLatency() { m.bus.APU().ClearBuffer() }

// APUCapBufferedStereo trims the audio queue down to maxFrames, dropping the
// oldest samples, to bound playback latency during fast-forward.
func (m *Machine) APUCapBufferedStereo(maxFrames int) { m.bus.APU().CapBuffer(maxFrames) }
