package models

import "time"

const TrackNumberMaxLength = 32

// Order — заказ (посылка). Владелец может быть не назначен, пока клиент
// не привяжет трек к себе (claim).
type Order struct {
	ID             uint64
	UserID         *uint64
	TrackingNumber string
	Description    string
	// NextSweepAt — ближайшее время, когда у заказа может "дозреть"
	// авто-событие. NULL — дозревать нечему.
	NextSweepAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TrackingEvent — запись истории по заказу. Append-only: события никогда
// не изменяются и не удаляются. ActorID пуст у авто-событий.
type TrackingEvent struct {
	ID        uint64
	OrderID   uint64
	StatusTag StatusTag
	Status    string
	Location  string
	ActorID   *uint64
	EventTime time.Time
	CreatedAt time.Time
}

// IsManual — событие создано сканированием сотрудника, а не шаблоном.
func (e *TrackingEvent) IsManual() bool { return e.ActorID != nil }

// AutoStatusTemplate — шаблон авто-статуса, привязанный к фазе
// ("после ручного шага N"). Справочные данные, читаются часто, пишутся редко.
type AutoStatusTemplate struct {
	ID            uint64
	Phase         Phase
	OrderIndex    int
	TemplateText  string
	OffsetMinutes int
	IsActive      bool
}

// User — клиент либо сотрудник. Флаги способностей заданы явно и по
// умолчанию false: у актёра без флага нет права сканировать.
type User struct {
	ID            uint64
	FullName      string
	Phone         string
	Email         *string
	PasswordHash  string
	APIToken      string
	PickupPointID *uint64
	Rack          int
	Cell          int
	LCNumber      string
	ClientCode    string
	RegionCode    string
	IsBlocked     bool
	IsActive      bool
	IsEmployee    bool
	IsStaff       bool
	IsSuperuser   bool
	DateJoined    time.Time
	UpdatedAt     time.Time
}

// CanScan — право выполнять ручное сканирование.
func (u *User) CanScan() bool {
	return u != nil && (u.IsEmployee || u.IsStaff || u.IsSuperuser)
}

// PickupPoint — пункт выдачи (ПВЗ).
type PickupPoint struct {
	ID                   uint64
	NameRU               string
	NameKG               string
	Address              string
	CodeLabel            string
	RegionCode           string
	BranchCode           string
	DefaultCNWarehouseID *uint64
	IsActive             bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// CodePair — "RR-BB", код региона и филиала.
func (p *PickupPoint) CodePair() string {
	return p.RegionCode + "-" + p.BranchCode
}

// WarehouseCN — склад в Китае.
type WarehouseCN struct {
	ID           uint64
	Name         string
	AddressCN    string
	ContactName  string
	ContactPhone string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
