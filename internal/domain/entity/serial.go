package entity

import (
	"fmt"
	"time"
)

// SerialSequenceWidth is the zero-padded width of the per-year sequence
const SerialSequenceWidth = 5

// MaxSerialSequence is the largest sequence that fits the serial format
const MaxSerialSequence = 99999

// FinancialYearPrefix returns the two-digit year pair of the financial year containing t.
// With an April start, 2026-10-18 belongs to FY 2026-27 and yields "2627".
func FinancialYearPrefix(t time.Time, startMonth time.Month) string {
	if startMonth < time.January || startMonth > time.December {
		startMonth = time.April
	}
	startYear := t.Year()
	if t.Month() < startMonth {
		startYear--
	}
	return fmt.Sprintf("%02d%02d", startYear%100, (startYear+1)%100)
}

// FormatSerial joins a financial-year prefix and a sequence number
func FormatSerial(prefix string, seq int64) (string, error) {
	if seq < 1 || seq > MaxSerialSequence {
		return "", fmt.Errorf("serial sequence %d out of range for year %s", seq, prefix)
	}
	return fmt.Sprintf("%s%0*d", prefix, SerialSequenceWidth, seq), nil
}
