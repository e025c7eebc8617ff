package protocol

// Checksum returns the byte that brings the sum of all bytes in p, plus
// the checksum itself, to zero modulo 256: (0x100 - sum) & 0xFF.
func Checksum(p ...[]byte) byte {
	var sum byte
	for _, b := range p {
		for _, v := range b {
			sum += v
		}
	}
	return -sum
}

// VerifyChecksum reports whether sum is the checksum of p.
func VerifyChecksum(sum byte, p ...[]byte) bool {
	return Checksum(p...) == sum
}
