package modem

import (
	"strconv"
	"strings"
)

// RegStatus is the network registration state reported by +CEREG/+CREG.
type RegStatus int

const (
	RegNoResult RegStatus = iota
	RegUnregistered
	RegSearching
	RegDenied
	RegHome
	RegRoaming
	RegSMSOnly
)

func (s RegStatus) String() string {
	switch s {
	case RegUnregistered:
		return "unregistered"
	case RegSearching:
		return "searching"
	case RegDenied:
		return "denied"
	case RegHome:
		return "home"
	case RegRoaming:
		return "roaming"
	case RegSMSOnly:
		return "sms-only"
	default:
		return "no-result"
	}
}

// Registered reports whether data service can be attempted.
func (s RegStatus) Registered() bool {
	return s == RegHome || s == RegRoaming
}

// parseRegistration reads "+CEREG: <n>,<stat>[,...]" or the unsolicited
// "+CEREG: <stat>" form.
func parseRegistration(line, prefix string) RegStatus {
	rest, ok := strings.CutPrefix(line, prefix)
	if !ok {
		return RegNoResult
	}
	parts := strings.Split(strings.TrimSpace(rest), ",")
	field := parts[0]
	if len(parts) >= 2 {
		field = parts[1]
	}
	stat, err := strconv.Atoi(strings.TrimSpace(field))
	if err != nil {
		return RegNoResult
	}
	switch stat {
	case 0:
		return RegUnregistered
	case 1:
		return RegHome
	case 2:
		return RegSearching
	case 3:
		return RegDenied
	case 5:
		return RegRoaming
	case 6, 7:
		return RegSMSOnly
	default:
		return RegNoResult
	}
}
