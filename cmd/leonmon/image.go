package main

import (
	"fmt"
	"os"

	"github.com/marcinbor85/gohex"
	"github.com/sigurn/crc16"

	"github.com/khanhpdspkt/firmware.modules.rtos/kernel/cpu"
)

var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// loadImage reads an Intel HEX image into machine memory, word by word in
// the machine's big-endian order, and returns the number of bytes loaded
// together with the CRC16/CCITT checksum over the raw segment data. The
// checksum lets a boot image be checked against the value the build
// recorded for it.
func loadImage(mem *cpu.Memory, path string) (int, uint16, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	image := gohex.NewMemory()
	if err := image.ParseIntelHex(f); err != nil {
		return 0, 0, err
	}

	var (
		loaded int
		crc    = crc16.Init(crcTable)
	)
	for _, seg := range image.GetDataSegments() {
		if seg.Address&3 != 0 || len(seg.Data)&3 != 0 {
			return 0, 0, fmt.Errorf("segment at %#x is not word aligned", seg.Address)
		}
		for i := 0; i+3 < len(seg.Data); i += 4 {
			word := uint32(seg.Data[i])<<24 | uint32(seg.Data[i+1])<<16 |
				uint32(seg.Data[i+2])<<8 | uint32(seg.Data[i+3])
			mem.StoreWord(seg.Address+uint32(i), word)
		}
		crc = crc16.Update(crc, seg.Data, crcTable)
		loaded += len(seg.Data)
	}
	return loaded, crc16.Complete(crc, crcTable), nil
}
