package cart

import "time"

// MBC3 implements ROM/RAM banking plus a simplified wall-clock-backed RTC.
// Banking behavior:
// - 0000-1FFF: RAM/RTC enable (0x0A in low nibble)
// - 2000-3FFF: ROM bank low 7 bits (0 maps to 1)
// - 4000-5FFF: RAM bank (0-3) or RTC register select (08-0C)
// - 6000-7FFF: latch: a 0x00 write followed by a 0x01 write snapshots the
//   live clock into the latched registers read back through 0xA000-0xBFFF
// - A000-BFFF: external RAM, or the latched RTC register selected above
// ROM: bank 0 fixed at 0000-3FFF; switchable 4000-7FFF uses bank (1..127)

type MBC3 struct {
	rom []byte
	ram []byte

	ramEnabled bool
	romBank    byte // 7 bits (1..127)
	ramBank    byte // 0..3, or 0x08..0x0C to select an RTC register

	rtcBase   time.Time // wall-clock instant corresponding to a zeroed RTC
	latchPrep bool      // saw the 0x00 half of the latch write sequence
	latched   bool
	latchS    byte
	latchM    byte
	latchH    byte
	latchDL   byte
	latchDH   byte // bit0 = day high bit, bit6 = halt, bit7 = day carry
	haltedAt  time.Duration
	isHalted  bool
}

func NewMBC3(rom []byte, ramSize int) *MBC3 {
	m := &MBC3{rom: rom, rtcBase: time.Now()}
	if ramSize > 0 {
		m.ram = make([]byte, ramSize)
	}
	m.romBank = 1
	return m
}

// rtcElapsed returns seconds elapsed since rtcBase, or the frozen value if halted.
func (m *MBC3) rtcElapsed() int64 {
	if m.isHalted {
		return int64(m.haltedAt.Seconds())
	}
	return int64(time.Since(m.rtcBase).Seconds())
}

func (m *MBC3) rtcRegister(sel byte) byte {
	total := m.rtcElapsed()
	switch sel {
	case 0x08:
		return byte(total % 60)
	case 0x09:
		return byte((total / 60) % 60)
	case 0x0A:
		return byte((total / 3600) % 24)
	case 0x0B:
		days := total / 86400
		return byte(days & 0xFF)
	case 0x0C:
		days := total / 86400
		v := byte((days >> 8) & 0x01)
		if m.isHalted {
			v |= 1 << 6
		}
		if days > 0x1FF {
			v |= 1 << 7
		}
		return v
	}
	return 0xFF
}

func (m *MBC3) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		if int(addr) < len(m.rom) {
			return m.rom[addr]
		}
		return 0xFF
	case addr < 0x8000:
		bank := int(m.romBank & 0x7F)
		if bank == 0 {
			bank = 1
		}
		off := bank*0x4000 + int(addr-0x4000)
		if off >= 0 && off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return 0xFF
		}
		if m.ramBank >= 0x08 && m.ramBank <= 0x0C {
			if !m.latched {
				return m.rtcRegister(m.ramBank)
			}
			switch m.ramBank {
			case 0x08:
				return m.latchS
			case 0x09:
				return m.latchM
			case 0x0A:
				return m.latchH
			case 0x0B:
				return m.latchDL
			case 0x0C:
				return m.latchDH
			}
		}
		if len(m.ram) == 0 {
			return 0xFF
		}
		rb := int(m.ramBank & 0x03)
		off := rb*0x2000 + int(addr-0xA000)
		if off >= 0 && off < len(m.ram) {
			return m.ram[off]
		}
		return 0xFF
	default:
		return 0xFF
	}
}

func (m *MBC3) Write(addr uint16, value byte) {
	switch {
	case addr < 0x2000:
		m.ramEnabled = (value & 0x0F) == 0x0A
	case addr < 0x4000:
		v := value & 0x7F
		if v == 0 {
			v = 1
		}
		m.romBank = v
	case addr < 0x6000:
		if value <= 0x03 || (value >= 0x08 && value <= 0x0C) {
			m.ramBank = value
		}
	case addr < 0x8000:
		// Latch sequence: write 0x00 then 0x01 snapshots the live clock.
		if value == 0x00 {
			m.latchPrep = true
		} else if value == 0x01 && m.latchPrep {
			m.latchS = m.rtcRegister(0x08)
			m.latchM = m.rtcRegister(0x09)
			m.latchH = m.rtcRegister(0x0A)
			m.latchDL = m.rtcRegister(0x0B)
			m.latchDH = m.rtcRegister(0x0C)
			m.latched = true
			m.latchPrep = false
		} else {
			m.latchPrep = false
		}
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return
		}
		if m.ramBank >= 0x08 && m.ramBank <= 0x0C {
			switch m.ramBank {
			case 0x0C:
				if value&(1<<6) != 0 && !m.isHalted {
					m.isHalted = true
					m.haltedAt = time.Since(m.rtcBase)
				} else if value&(1<<6) == 0 && m.isHalted {
					m.isHalted = false
					m.rtcBase = time.Now().Add(-m.haltedAt)
				}
			}
			return
		}
		if len(m.ram) == 0 {
			return
		}
		rb := int(m.ramBank & 0x03)
		off := rb*0x2000 + int(addr-0xA000)
		if off >= 0 && off < len(m.ram) {
			m.ram[off] = value
		}
	}
}

// BatteryBacked implementation (RTC not persisted here)
func (m *MBC3) SaveRAM() []byte {
	if len(m.ram) == 0 {
		return nil
	}
	out := make([]byte, len(m.ram))
	copy(out, m.ram)
	return out
}

func (m *MBC3) LoadRAM(data []byte) {
	if len(m.ram) == 0 || len(data) == 0 {
		return
	}
	copy(m.ram, data)
}
