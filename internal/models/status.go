package models

// StatusTag — стабильный внутренний идентификатор ручного статуса.
// Событие хранит и тег, и отрисованный текст: сравниваем по тегу,
// текст — только для людей (и для старых записей без тега).
type StatusTag string

const (
	StatusTagNone        StatusTag = ""
	StatusTagWarehouseCN StatusTag = "WAREHOUSE_CN"
	StatusTagDispatched  StatusTag = "DISPATCHED"
	StatusTagArrivedPVZ  StatusTag = "ARRIVED_PVZ"
	StatusTagCollected   StatusTag = "COLLECTED"
)

// Канонические тексты ручных статусов.
const (
	StatusTextWarehouseCN = "Товар поступил на склад в Китае"
	StatusTextDispatched  = "Товар отправлен со склада"
	// У шага "прибыл" текст отрисовывается из шаблона и длиннее канонической
	// метки; старые записи сопоставляются по этому префиксу.
	StatusTextArrivedPrefix = "Прибыл в пункт выдачи"
	StatusTextCollected     = "Получен"
)

// ArrivedTemplate — развёрнутый текст шага "прибыл в пункт выдачи".
const ArrivedTemplate = "Прибыл в пункт выдачи {pickup_point} ({code_pair}). Трек-номер: {tracking_number}. Адрес: {address}"

// AutoEventLocation помечает события, созданные из шаблона.
const AutoEventLocation = "(auto)"

// StatusFlow — фиксированная последовательность ручных шагов обработки.
// Это контракт процесса, а не состояние заказа.
var StatusFlow = [4]StatusTag{
	StatusTagWarehouseCN,
	StatusTagDispatched,
	StatusTagArrivedPVZ,
	StatusTagCollected,
}

// Phase — символическая метка "авто-события после ручного шага N".
type Phase string

const (
	PhaseAfterScan1 Phase = "AFTER_SCAN_1"
	PhaseAfterScan2 Phase = "AFTER_SCAN_2"
	PhaseAfterScan3 Phase = "AFTER_SCAN_3"
	PhaseAfterScan4 Phase = "AFTER_SCAN_4"
)

var phaseByTag = map[StatusTag]Phase{
	StatusTagWarehouseCN: PhaseAfterScan1,
	StatusTagDispatched:  PhaseAfterScan2,
	StatusTagArrivedPVZ:  PhaseAfterScan3,
	StatusTagCollected:   PhaseAfterScan4,
}

// PhaseForTag возвращает фазу авто-событий, следующую за ручным шагом.
func PhaseForTag(tag StatusTag) (Phase, bool) {
	p, ok := phaseByTag[tag]
	return p, ok
}

// ValidPhase — известная ли фаза (для валидации справочника шаблонов).
func ValidPhase(p Phase) bool {
	switch p {
	case PhaseAfterScan1, PhaseAfterScan2, PhaseAfterScan3, PhaseAfterScan4:
		return true
	}
	return false
}
