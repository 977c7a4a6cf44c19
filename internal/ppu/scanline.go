package ppu

import "sort"

// Sprite is a decoded OAM entry in screen coordinates, ready for line
// composition: X/Y are already the sprite's top-left pixel on screen (OAM's
// +8/+16 offset already removed).
type Sprite struct {
	X, Y     int
	Tile     byte
	Attr     byte
	OAMIndex int
}

// ComposeSpriteLine renders sprites onto scanline ly, resolving DMG sprite
// priority (lower X wins, ties broken by lower OAM index) and BG-priority
// occlusion against bgci. It returns raw 2-bit color indices; 0 means no
// sprite pixel is visible there.
func ComposeSpriteLine(mem VRAMReader, sprites []Sprite, ly int, bgci [160]byte, tall bool) [160]byte {
	ci, _ := composeSpriteLineAttrs(mem, sprites, ly, bgci, tall)
	return ci
}

// composeSpriteLineAttrs is ComposeSpriteLine's full form, additionally
// returning the OAM attribute byte of whichever sprite won each pixel so
// callers can resolve per-sprite palette selection (OBP0 vs OBP1).
func composeSpriteLineAttrs(mem VRAMReader, sprites []Sprite, ly int, bgci [160]byte, tall bool) (ci, attr [160]byte) {
	height := 8
	if tall {
		height = 16
	}

	order := make([]int, len(sprites))
	for i := range order {
		order[i] = i
	}
	// Draw lowest-priority sprites first so the highest-priority one (lowest
	// X, then lowest OAM index) is painted last and wins overlaps.
	sort.Slice(order, func(a, b int) bool {
		sa, sb := sprites[order[a]], sprites[order[b]]
		if sa.X != sb.X {
			return sa.X > sb.X
		}
		return sa.OAMIndex > sb.OAMIndex
	})

	for _, idx := range order {
		s := sprites[idx]
		line := ly - s.Y
		if line < 0 || line >= height {
			continue
		}
		if s.Attr&0x40 != 0 { // Y flip
			line = height - 1 - line
		}
		tile := s.Tile
		if tall {
			tile &^= 0x01
			if line >= 8 {
				tile |= 0x01
				line -= 8
			}
		}
		addr := 0x8000 + uint16(tile)*16 + uint16(line)*2
		lo := mem.Read(addr)
		hi := mem.Read(addr + 1)
		for px := 0; px < 8; px++ {
			sxp := s.X + px
			if sxp < 0 || sxp >= 160 {
				continue
			}
			bit := px
			if s.Attr&0x20 == 0 { // X flip (attr bit5 set means flip)
				bit = 7 - px
			}
			lobit := (lo >> uint(bit)) & 1
			hibit := (hi >> uint(bit)) & 1
			idxCol := lobit | (hibit << 1)
			if idxCol == 0 {
				continue // transparent
			}
			if s.Attr&0x80 != 0 && bgci[sxp] != 0 {
				continue // behind BG/window when BG priority bit set and BG pixel non-zero
			}
			ci[sxp] = idxCol
			attr[sxp] = s.Attr
		}
	}
	return ci, attr
}

// RenderBGScanlineUsingFetcher renders 160 BG pixels for the given LY using the isolated fetcher.
// Inputs:
// - mem: VRAM reader
// - mapBase: 0x9800 or 0x9C00
// - tileData8000: true -> 0x8000 addressing; false -> 0x8800 signed addressing
// - scx, scy: scroll registers
// - ly: current scanline (0..143)
// Output: 160 color indices (0..3)
func RenderBGScanlineUsingFetcher(mem VRAMReader, mapBase uint16, tileData8000 bool, scx, scy, ly byte) [160]byte {
	var out [160]byte

	// Compute BG coordinates.
	bgY := uint16(ly) + uint16(scy)
	fineY := byte(bgY & 7)
	mapY := (bgY >> 3) & 31 // 0..31 rows

	startX := uint16(scx)
	tileX := (startX >> 3) & 31
	fineX := int(startX & 7)

	// Map index address for the first tile column.
	tileIndexAddr := mapBase + mapY*32 + tileX

	var q fifo
	f := newBGFetcher(mem, &q)
	f.Configure(mapBase, tileData8000, tileIndexAddr, fineY)
	f.Fetch()
	// Discard scx fractional pixels.
	for i := 0; i < fineX; i++ {
		_, _ = q.Pop()
	}

	// Produce 160 pixels, fetching new tiles as the FIFO empties.
	for x := 0; x < 160; x++ {
		if q.Len() == 0 {
			// Advance to next tile in map row (wrap at 32 tiles).
			tileX = (tileX + 1) & 31
			tileIndexAddr = mapBase + mapY*32 + tileX
			f.Configure(mapBase, tileData8000, tileIndexAddr, fineY)
			f.Fetch()
		}
		px, _ := q.Pop()
		out[x] = px
	}
	return out
}

// RenderWindowScanlineUsingFetcher renders the window layer for a scanline using the fetcher.
// It fills pixels starting at wxStart (WX-7) using winLine as the vertical line within the window.
// Pixels before wxStart are left as 0 (BG color index 0) so callers can blend.
func RenderWindowScanlineUsingFetcher(mem VRAMReader, mapBase uint16, tileData8000 bool, wxStart int, winLine byte) [160]byte {
	var out [160]byte
	if wxStart >= 160 {
		return out
	}
	if wxStart < 0 {
		wxStart = 0
	}
	// Compute window tile row and fineY
	mapY := (uint16(winLine) >> 3) & 31
	fineY := winLine & 7
	tileX := uint16(0)
	tileIndexAddr := mapBase + mapY*32 + tileX
	var q fifo
	f := newBGFetcher(mem, &q)
	f.Configure(mapBase, tileData8000, tileIndexAddr, fineY)
	f.Fetch()
	for x := wxStart; x < 160; x++ {
		if q.Len() == 0 {
			tileX = (tileX + 1) & 31
			tileIndexAddr = mapBase + mapY*32 + tileX
			f.Configure(mapBase, tileData8000, tileIndexAddr, fineY)
			f.Fetch()
		}
		px, _ := q.Pop()
		out[x] = px
	}
	return out
}
