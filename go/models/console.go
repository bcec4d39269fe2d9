package models

// Console is the character device behind the firmware console calls.
type Console interface {
	PutChar(c byte) error
	// GetChar returns false when no input is pending. It never blocks.
	GetChar() (byte, bool)
}
