package ppu

// InterruptRequester is a callback signature to request IF bits (0:VBlank, 1:STAT, etc.).
type InterruptRequester func(bit int)

// PPU models VRAM/OAM, LCDC/STAT regs, LY/LYC, and basic timing.
// It exposes CPU-facing Read/Write for VRAM/OAM and PPU IO regs.
type PPU struct {
	// memory
	vram [0x2000]byte // 0x8000–0x9FFF
	oam  [0xA0]byte   // 0xFE00–0xFE9F

	// regs
	lcdc byte // FF40
	stat byte // FF41 (mode bits 0-1, coincidence flag bit2, enables bits3-6)
	scy  byte // FF42
	scx  byte // FF43
	ly   byte // FF44
	lyc  byte // FF45
	bgp  byte // FF47
	obp0 byte // FF48
	obp1 byte // FF49
	wy   byte // FF4A
	wx   byte // FF4B

	dot int // dots within current line [0..455]

	req InterruptRequester

	// framebuffer: RGBA 160x144, written one scanline at a time when a line's
	// pixel-transfer window ends (entry into HBlank).
	fb [160 * 144 * 4]byte

	// enteredVBlank latches true on the dot a new frame's VBlank begins and
	// stays set until ConsumeVBlank reads it; Tick is driven one t-cycle at a
	// time, so clearing it unconditionally on entry would drop the signal
	// whenever the VBlank dot isn't the last t-cycle ticked for a given CPU
	// instruction.
	enteredVBlank bool

	// winLineCounter is the window's own internal scanline counter: it only
	// advances on lines where the window layer was actually drawn, and
	// resets once per frame, independent of LY-WY.
	winLineCounter byte
	lineRegs       [144]LineRegs
}

// LineRegs captures register state latched when a scanline enters pixel
// transfer (mode 2->3), for tests that want ground truth beyond the rendered
// pixels.
type LineRegs struct {
	WinLine byte
}

// LineRegs returns the captured register snapshot for scanline y.
func (p *PPU) LineRegs(y int) LineRegs {
	if y < 0 || y >= 144 {
		return LineRegs{}
	}
	return p.lineRegs[y]
}

func New(req InterruptRequester) *PPU { return &PPU{req: req} }

// Framebuffer returns the RGBA pixel buffer for the last fully rendered frame.
func (p *PPU) Framebuffer() []byte { return p.fb[:] }

// ConsumeVBlank reports whether VBlank was entered since the last call and
// clears the flag, so each frame boundary is observed exactly once.
func (p *PPU) ConsumeVBlank() bool {
	v := p.enteredVBlank
	p.enteredVBlank = false
	return v
}

// RawRead bypasses CPU mode gating; used by OAM-DMA, which performs a
// direct bus read rather than a CPU-visible one.
func (p *PPU) RawRead(addr uint16) byte {
	if addr >= 0x8000 && addr <= 0x9FFF {
		return p.vram[addr-0x8000]
	}
	return 0xFF
}

// RawOAMWrite bypasses CPU mode gating; the OAM-DMA engine writes OAM
// directly regardless of the current PPU mode.
func (p *PPU) RawOAMWrite(index int, value byte) {
	if index >= 0 && index < len(p.oam) {
		p.oam[index] = value
	}
}

// CPURead returns bytes for VRAM, OAM, and PPU IO registers. Returns 0xFF for others.
func (p *PPU) CPURead(addr uint16) byte {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
	// VRAM is inaccessible to CPU during mode 3 (return 0xFF)
	if (p.stat & 0x03) == 3 { return 0xFF }
	return p.vram[addr-0x8000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
	// OAM is inaccessible during modes 2 and 3
	m := p.stat & 0x03
	if m == 2 || m == 3 { return 0xFF }
	return p.oam[addr-0xFE00]
	case addr == 0xFF40:
		return p.lcdc
	case addr == 0xFF41:
	// On DMG, bit7 reads as 1; bit6..3 are enables; bit2 coincidence; bit1..0 mode
	return 0x80 | (p.stat & 0x7F)
	case addr == 0xFF42:
		return p.scy
	case addr == 0xFF43:
		return p.scx
	case addr == 0xFF44:
		return p.ly
	case addr == 0xFF45:
		return p.lyc
	case addr == 0xFF47:
		return p.bgp
	case addr == 0xFF48:
		return p.obp0
	case addr == 0xFF49:
		return p.obp1
	case addr == 0xFF4A:
		return p.wy
	case addr == 0xFF4B:
		return p.wx
	default:
		return 0xFF
	}
}

// CPUWrite handles writes to VRAM, OAM, and PPU IO regs. Others are ignored here.
func (p *PPU) CPUWrite(addr uint16, value byte) {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
	if (p.stat & 0x03) == 3 { return }
	p.vram[addr-0x8000] = value
	case addr >= 0xFE00 && addr <= 0xFE9F:
	m := p.stat & 0x03
	if m == 2 || m == 3 { return }
	p.oam[addr-0xFE00] = value
	case addr == 0xFF40:
		prev := p.lcdc
		p.lcdc = value
		if (p.lcdc&0x80) == 0 && (prev&0x80) != 0 {
			// Turning LCD off resets LY/mode
			p.ly = 0
			p.dot = 0
			p.setMode(0)
			p.updateLYC()
		} else if (p.lcdc&0x80) != 0 && (prev&0x80) == 0 {
			// Turning LCD on: start at LY=0, mode 2 (OAM)
			p.ly = 0
			p.dot = 0
			p.setMode(2)
			p.updateLYC()
		}
	case addr == 0xFF41:
		p.stat = (p.stat & 0x07) | (value & 0x78)
	case addr == 0xFF42:
		p.scy = value
	case addr == 0xFF43:
		p.scx = value
	case addr == 0xFF44:
		p.ly = 0
		p.dot = 0
		p.updateLYC()
		if (p.lcdc & 0x80) != 0 {
			p.setMode(2)
		}
	case addr == 0xFF45:
		p.lyc = value
		p.updateLYC()
	case addr == 0xFF47:
		p.bgp = value
	case addr == 0xFF48:
		p.obp0 = value
	case addr == 0xFF49:
		p.obp1 = value
	case addr == 0xFF4A:
		p.wy = value
	case addr == 0xFF4B:
		p.wx = value
	}
}

// Tick advances PPU state by the given number of dots (CPU cycles).
func (p *PPU) Tick(cycles int) {
	if cycles <= 0 {
		return
	}
	for i := 0; i < cycles; i++ {
		if (p.lcdc & 0x80) == 0 { // LCD off
			continue
		}
		p.dot++
		// Mode scheduling
		var mode byte
		if p.ly >= 144 {
			mode = 1
		} else {
			switch {
			case p.dot < 80:
				mode = 2
			case p.dot < 80+172:
				mode = 3
			default:
				mode = 0
			}
		}
		prevMode := p.stat & 0x03
		p.setMode(mode)
		if prevMode == 2 && mode == 3 {
			p.lineRegs[p.ly] = LineRegs{WinLine: p.winLineCounter}
		}
		if prevMode == 3 && mode == 0 {
			p.renderLine()
		}

		if p.dot >= 456 {
			p.dot = 0
			p.ly++
			if p.ly == 144 {
				// Enter VBlank
				p.enteredVBlank = true
				if p.req != nil {
					p.req(0)
				} // VBlank IF
				if (p.stat & (1 << 4)) != 0 {
					if p.req != nil {
						p.req(1)
					}
				} // STAT VBlank
			} else if p.ly > 153 {
				p.ly = 0
				p.winLineCounter = 0
			}
			p.updateLYC()
			// Set mode for new line start (dot=0)
			if p.ly >= 144 {
				p.setMode(1)
			} else {
				p.setMode(2)
			}
		}
	}
}

// renderLine composites background, window, and up to 10 OAM sprites for the
// scanline that just finished pixel transfer (p.ly), writing RGBA pixels into fb.
func (p *PPU) renderLine() {
	ly := p.ly
	if ly >= 144 {
		return
	}

	var bgColorIdx [160]byte // background/window palette index per pixel, for sprite priority

	bgOn := p.lcdc&0x01 != 0
	winOn := p.lcdc&0x20 != 0 && p.lcdc&0x01 != 0 && p.wy <= ly
	spritesOn := p.lcdc&0x02 != 0

	bgTileDataSigned := p.lcdc&0x10 == 0 // LCDC bit4=0 selects 0x8800 signed addressing
	bgMapBase := uint16(0x9800)
	if p.lcdc&0x08 != 0 {
		bgMapBase = 0x9C00
	}
	winMapBase := uint16(0x9800)
	if p.lcdc&0x40 != 0 {
		winMapBase = 0x9C00
	}

	tileData8000 := !bgTileDataSigned
	var bgLine, winLine [160]byte
	if bgOn {
		bgLine = RenderBGScanlineUsingFetcher(p, bgMapBase, tileData8000, p.scx, p.scy, ly)
	}
	winX0 := int(p.wx) - 7
	winDrawn := winOn && winX0 < 160
	if winDrawn {
		winLine = RenderWindowScanlineUsingFetcher(p, winMapBase, tileData8000, winX0, p.winLineCounter)
		p.winLineCounter++
	}
	for x := 0; x < 160; x++ {
		var colorIdx byte
		if winOn && x >= winX0 {
			colorIdx = winLine[x]
		} else if bgOn {
			colorIdx = bgLine[x]
		}
		bgColorIdx[x] = colorIdx
		p.setPixel(x, int(ly), p.applyPalette(p.bgp, colorIdx))
	}

	if spritesOn {
		tall := p.lcdc&0x04 != 0
		height := 8
		if tall {
			height = 16
		}
		var sprites []Sprite
		for i := 0; i < 40 && len(sprites) < 10; i++ {
			base := i * 4
			sy := int(p.oam[base]) - 16
			if int(ly) < sy || int(ly) >= sy+height {
				continue
			}
			sprites = append(sprites, Sprite{
				X: int(p.oam[base+1]) - 8, Y: sy, Tile: p.oam[base+2], Attr: p.oam[base+3], OAMIndex: i,
			})
		}
		ci, attr := composeSpriteLineAttrs(p, sprites, int(ly), bgColorIdx, tall)
		for x := 0; x < 160; x++ {
			if ci[x] == 0 {
				continue
			}
			pal := p.obp0
			if attr[x]&0x10 != 0 {
				pal = p.obp1
			}
			p.setPixel(x, int(ly), p.applyPalette(pal, ci[x]))
		}
	}
}

// Read implements VRAMReader so the PPU itself can drive the fetcher/FIFO
// scanline helpers without a throwaway adapter type.
func (p *PPU) Read(addr uint16) byte { return p.RawRead(addr) }

// applyPalette maps a 2-bit color index through a palette register to a DMG shade (0..3).
func (p *PPU) applyPalette(pal byte, idx byte) byte {
	return (pal >> (idx * 2)) & 0x03
}

// dmgShades holds the four grayscale RGB values used for all DMG rendering.
var dmgShades = [4][3]byte{
	{0xFF, 0xFF, 0xFF},
	{0xA9, 0xA9, 0xA9},
	{0x54, 0x54, 0x54},
	{0x00, 0x00, 0x00},
}

func (p *PPU) setPixel(x, y int, shade byte) {
	i := (y*160 + x) * 4
	c := dmgShades[shade&0x03]
	p.fb[i+0] = c[0]
	p.fb[i+1] = c[1]
	p.fb[i+2] = c[2]
	p.fb[i+3] = 0xFF
}

func (p *PPU) setMode(mode byte) {
	prev := p.stat & 0x03
	if prev == mode {
		return
	}
	p.stat = (p.stat &^ 0x03) | (mode & 0x03)
	switch mode {
	case 0: // HBlank
		if (p.stat & (1 << 3)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	case 2: // OAM
		if (p.stat & (1 << 5)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	}
}

func (p *PPU) updateLYC() {
	if p.ly == p.lyc {
		p.stat |= 1 << 2
		if (p.stat & (1 << 6)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	} else {
		p.stat &^= 1 << 2
	}
}

// Expose palettes and scroll for renderer convenience (optional helpers)
func (p *PPU) BGP() byte  { return p.bgp }
func (p *PPU) OBP0() byte { return p.obp0 }
func (p *PPU) OBP1() byte { return p.obp1 }
func (p *PPU) LCDC() byte { return p.lcdc }
func (p *PPU) SCY() byte  { return p.scy }
func (p *PPU) SCX() byte  { return p.scx }
func (p *PPU) WY() byte   { return p.wy }
func (p *PPU) WX() byte   { return p.wx }
