package timer

// Role — назначение таймера; передаётся в dispatch вместе с каждым срабатыванием
type Role int

const (
	Trigger     Role = iota // затвор камеры и строб, периодический
	DriftSample             // замер дрейфа, однократный
	Resync                  // полная ресинхронизация, однократный
)

// numRoles — число ролей; таймеров ровно три
const numRoles = 3

// Roles возвращает все роли в порядке объявления
func Roles() []Role {
	return []Role{Trigger, DriftSample, Resync}
}

func (r Role) String() string {
	switch r {
	case Trigger:
		return "trigger"
	case DriftSample:
		return "drift"
	case Resync:
		return "resync"
	default:
		return "unknown"
	}
}

// Valid возвращает true для одной из трёх известных ролей
func (r Role) Valid() bool {
	return r >= Trigger && r < numRoles
}
