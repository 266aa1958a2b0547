// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package common contains functions used across multiple packages. For
// example, a CRC8 calculation
package common

// CRC8 calculates the 8-bit CRC of the byte slice parameter and returns the
// calculated value. This is the Dallas/Maxim variant used by 1-wire devices:
// polynomial x⁸+x⁵+x⁴+1 in its reflected form 0x8c, processed least
// significant bit first with a zero seed.
func CRC8(bytes []byte) byte {
	var crc byte
	for _, val := range bytes {
		for i := 0; i < 8; i++ {
			mix := (crc ^ val) & 1
			crc >>= 1
			if mix != 0 {
				crc ^= 0x8c
			}
			val >>= 1
		}
	}
	return crc
}

// CheckCRC returns true if the trailing byte of buf is the valid CRC8 of the
// bytes preceding it. Running the checksum over a buffer that already ends
// in its own CRC yields zero, which is how 1-wire ROM codes and scratchpads
// are validated.
func CheckCRC(buf []byte) bool {
	return len(buf) > 0 && CRC8(buf) == 0
}
