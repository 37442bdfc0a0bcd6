package host

// ActorID identifies an actor. Unowned marks objects that belong to nobody.
type ActorID uint64

const Unowned ActorID = 0

// Handle is an opaque, comparable reference to a live world object.
type Handle uint64

// Kind is the closed set of object variants the engine knows how to maintain.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindCatcher
	KindTank
)

func (k Kind) String() string {
	switch k {
	case KindCatcher:
		return "catcher"
	case KindTank:
		return "tank"
	default:
		return "unknown"
	}
}

func ParseKind(s string) Kind {
	switch s {
	case "catcher":
		return KindCatcher
	case "tank":
		return KindTank
	default:
		return KindUnknown
	}
}

// Slot is one independently capped quantity inside an object.
type Slot interface {
	ItemKind() string
	Amount() int
	SetAmount(n int)
	Capacity() int
}

// Inventory is the quantity container of a fillable object.
type Inventory interface {
	Slots() []Slot
	// Create synthesizes a new slot of itemKind holding amount. It reports false when
	// the container refused it.
	Create(itemKind string, amount int) bool
	StackCap(itemKind string) int
	// MarkDirty is the change notification for the whole object.
	MarkDirty()
}

type Entity interface {
	Handle() Handle
	Kind() Kind
	Owner() ActorID
	Category() string
	Destroyed() bool
	Inventory() Inventory
}

// World enumerates every live object.
type World interface {
	Entities() []Entity
}

type Authorizer interface {
	HasPermission(actor ActorID, perm string) bool
}

type Actor struct {
	ID   ActorID
	Name string
}

// Directory resolves command arguments to actors.
type Directory interface {
	Resolve(ident string) (Actor, bool)
	Name(id ActorID) string
}
