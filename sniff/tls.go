package sniff

import "encoding/binary"

// TLSSNISniffer extracts the server_name extension (SNI) from a TLS
// ClientHello, walking the fixed ClientHello layout and extensions list by
// hand (no crypto/tls handshake is performed and none of the record is
// altered). Every offset is bounds-checked; an overflow means "not enough
// bytes yet", not a parse failure, so the caller simply feeds more.
type TLSSNISniffer struct {
	buffer []byte
	sni    string
	found  bool
}

func NewTLSSNISniffer() *TLSSNISniffer {
	return &TLSSNISniffer{}
}

func (s *TLSSNISniffer) Feed(data []byte) {
	s.buffer = append(s.buffer, data...)
}

func (s *TLSSNISniffer) Extract() (string, bool) {
	if s.found {
		return s.sni, true
	}

	buf := s.buffer
	const fixedPrefix = 43
	if len(buf) < fixedPrefix {
		return "", false
	}
	if buf[0] != 0x16 {
		return "", false
	}

	pos := fixedPrefix

	if pos+1 > len(buf) {
		return "", false
	}
	sessionIDLen := int(buf[pos])
	pos += 1 + sessionIDLen

	if pos+2 > len(buf) {
		return "", false
	}
	cipherSuitesLen := int(binary.BigEndian.Uint16(buf[pos : pos+2]))
	pos += 2 + cipherSuitesLen

	if pos+1 > len(buf) {
		return "", false
	}
	compressionLen := int(buf[pos])
	pos += 1 + compressionLen

	if pos+2 > len(buf) {
		return "", false
	}
	extensionsLen := int(binary.BigEndian.Uint16(buf[pos : pos+2]))
	pos += 2

	extensionsEnd := pos + extensionsLen

	for pos+4 <= extensionsEnd && pos+4 <= len(buf) {
		extType := binary.BigEndian.Uint16(buf[pos : pos+2])
		extLen := int(binary.BigEndian.Uint16(buf[pos+2 : pos+4]))
		pos += 4

		if extType == 0 {
			if pos+5 > len(buf) {
				return "", false
			}
			pos += 2 // server_name_list length, not needed beyond bounds

			if pos+3 > len(buf) {
				return "", false
			}
			nameType := buf[pos]
			nameLen := int(binary.BigEndian.Uint16(buf[pos+1 : pos+3]))
			pos += 3

			if nameType == 0 && pos+nameLen <= len(buf) {
				s.sni = string(buf[pos : pos+nameLen])
				s.found = true
				return s.sni, true
			}
			return "", false
		}

		pos += extLen
	}

	return "", false
}

func (s *TLSSNISniffer) ConsumedBytes() []byte {
	return s.buffer
}
