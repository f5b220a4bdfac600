package gps

// UBX-CFG-RATE (class 0x06, id 0x08) and UBX-CFG-MSG (class 0x06, id
// 0x01) frame construction, ported byte-for-byte from the original
// implementation's configureRate/configureNMEAMessages.

const ubxSync1, ubxSync2 = 0xB5, 0x62

func ubxChecksum(payload []byte) (ckA, ckB byte) {
	for _, b := range payload {
		ckA += b
		ckB += ckA
	}
	return ckA, ckB
}

// ubxCfgRate builds a CFG-RATE message setting the measurement period
// to measRateMs milliseconds, nav rate 1, time ref UTC.
func ubxCfgRate(measRateMs uint16) []byte {
	body := []byte{
		0x06, 0x08, 0x06, 0x00,
		byte(measRateMs & 0xFF), byte(measRateMs >> 8),
		0x01, 0x00, // navRate = 1
		0x01, 0x00, // timeRef = UTC
	}
	ckA, ckB := ubxChecksum(body)
	return append([]byte{ubxSync1, ubxSync2}, append(body, ckA, ckB)...)
}

// ubxNMEAMessageIDs lists the (class, id) pairs for the NMEA sentence types CFG-MSG can
// gate per-port. GGA is {0xF0, 0x00}; the rest are disabled.
var ubxNMEAMessageIDs = [][2]byte{
	{0xF0, 0x00}, // GGA
	{0xF0, 0x01}, {0xF0, 0x02}, {0xF0, 0x03}, {0xF0, 0x04},
	{0xF0, 0x05}, {0xF0, 0x06}, {0xF0, 0x07}, {0xF0, 0x08},
	{0xF0, 0x09}, {0xF0, 0x0D}, {0xF0, 0x0F},
}

// ubxCfgMsgGGAOnly returns one CFG-MSG frame per NMEA sentence type,
// enabling only GGA at ggaRate on UART1 and disabling the rest.
func ubxCfgMsgGGAOnly() [][]byte {
	const ggaRate = 1
	frames := make([][]byte, 0, len(ubxNMEAMessageIDs))
	for _, id := range ubxNMEAMessageIDs {
		clsID, msgID := id[0], id[1]
		rate := byte(0)
		if msgID == 0x00 {
			rate = ggaRate
		}
		body := []byte{
			0x06, 0x01, 0x08, 0x00,
			clsID, msgID,
			0x00, // I2C
			rate, // UART1
			0x00, // UART2
			0x00, // USB
			0x00, // SPI
			0x00, // reserved
		}
		ckA, ckB := ubxChecksum(body)
		frames = append(frames, append([]byte{ubxSync1, ubxSync2}, append(body, ckA, ckB)...))
	}
	return frames
}
