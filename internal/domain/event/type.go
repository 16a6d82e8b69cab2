package event

// Type identifies the type of domain event
type Type string

const (
	TypeBillCreated      Type = "bill.created"
	TypeBillTransitioned Type = "bill.transitioned"
	TypeBillRejected     Type = "bill.rejected"
	TypeBillRecovered    Type = "bill.recovered"
	TypeBillCompleted    Type = "bill.completed"
	TypeBillStuck        Type = "bill.stuck"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeBillCreated,
		TypeBillTransitioned,
		TypeBillRejected,
		TypeBillRecovered,
		TypeBillCompleted,
		TypeBillStuck:
		return true
	default:
		return false
	}
}

// AllTypes lists every event type, used to subscribe catch-all handlers
func AllTypes() []Type {
	return []Type{
		TypeBillCreated,
		TypeBillTransitioned,
		TypeBillRejected,
		TypeBillRecovered,
		TypeBillCompleted,
		TypeBillStuck,
	}
}
