// Package ipl3 identifies the N64 boot code (IPL3) embedded in a ROM image
// by its CRC-32/CKSUM checksum, and corrects the ROM header's entrypoint
// word into the VRAM base the rest of the module needs.
package ipl3

import "fmt"

// cksumPoly is the CRC-32/CKSUM polynomial. Go's standard library
// hash/crc32 only builds tables for the reflected CRC family (refin=true,
// refout=true); CRC-32/CKSUM is unreflected (refin=false, refout=false,
// init=0, xorout=0xFFFFFFFF), so MakeTable cannot produce it and the
// checksum is computed by hand, MSB-first, one bit at a time. No pack
// example or ecosystem library exposes the unreflected CRC family either.
const cksumPoly uint32 = 0x04C11DB7

// Checksum computes the CRC-32/CKSUM checksum of data.
func Checksum(data []byte) uint32 {
	var crc uint32
	for _, b := range data {
		crc ^= uint32(b) << 24
		for i := 0; i < 8; i++ {
			if crc&0x8000_0000 != 0 {
				crc = (crc << 1) ^ cksumPoly
			} else {
				crc <<= 1
			}
		}
	}
	return crc ^ 0xFFFF_FFFF
}

// ipl3Start and ipl3End bound the 0xFC0-byte IPL3 boot block within a ROM.
const (
	ipl3Start = 0x40
	ipl3End   = 0x1000
)

// CICInfo names a CIC boot chip variant and the entrypoint correction it
// requires.
type CICInfo struct {
	Checksum         uint32
	NTSCName         string
	PALName          string
	EntrypointOffset uint32
}

var knownCICs = []CICInfo{
	{0xD1F2D592, "6102", "7101", 0x000000},
	{0x27DF61E2, "6103", "7103", 0x100000},
	{0x229F516C, "6105", "7105", 0x000000},
	{0xA0DD69F7, "6106", "7106", 0x200000},
	{0x0013579C, "6101", "-", 0x000000},
	{0xDAB442CD, "-", "7102", 0x8000_0480},
}

// Name renders the variant's NTSC/PAL designation, e.g. "6102 / 7101".
func (c CICInfo) Name() string {
	switch {
	case c.NTSCName == "-":
		return c.PALName
	case c.PALName == "-":
		return c.NTSCName
	default:
		return fmt.Sprintf("%s / %s", c.NTSCName, c.PALName)
	}
}

// CorrectEntrypoint turns the raw ROM header entrypoint word into the VRAM
// base of the ROM's loaded region. Most CIC variants load at a fixed
// offset below the header entrypoint; 7102 hardcodes an absolute base
// instead (bit 31 set marks that case).
func (c CICInfo) CorrectEntrypoint(headerEntrypoint uint32) uint32 {
	if c.EntrypointOffset&0x8000_0000 != 0 {
		return c.EntrypointOffset
	}
	return headerEntrypoint - c.EntrypointOffset
}

// unknownCIC is returned when a ROM's IPL3 checksum matches no known CIC.
var unknownCIC = CICInfo{NTSCName: "unk", PALName: "unk"}

// Identify reads the IPL3 boot block (bytes [0x40, 0x1000)) of rom and
// looks its checksum up against the known CIC table.
func Identify(rom []byte) (CICInfo, error) {
	if len(rom) < ipl3End {
		return CICInfo{}, fmt.Errorf("ipl3: rom too short (%d bytes) to contain an IPL3 block", len(rom))
	}
	sum := Checksum(rom[ipl3Start:ipl3End])
	for _, c := range knownCICs {
		if c.Checksum == sum {
			return c, nil
		}
	}
	return unknownCIC, nil
}
