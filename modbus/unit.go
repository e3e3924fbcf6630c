package modbus

import "strconv"

// UnitID describes a Modbus unit identifier. Over Modbus/TCP it addresses a
// sub-device behind a gateway and is passed through unchanged.
type UnitID uint8

// Unit identifier constants.
const (
	// UnitBroadcast is the unit identifier used for broadcasts behind a
	// gateway.
	UnitBroadcast UnitID = 0

	// UnitIndividualMax is the maximum valid unit ID for an individual device
	// behind a gateway.
	UnitIndividualMax UnitID = 247

	// UnitTCP is the unit identifier for a Modbus/TCP device which is
	// addressed directly by its IP address.
	UnitTCP UnitID = 255
)

// IsValid checks whether this unit identifier is valid, either for
// broadcasts, for an individual device behind a gateway, or for a Modbus/TCP
// server.
func (uid UnitID) IsValid() bool {
	return uid == UnitTCP || uid <= UnitIndividualMax
}

// String implements fmt.Stringer.
func (uid UnitID) String() string {
	return strconv.Itoa(int(uid))
}
