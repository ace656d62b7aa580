// Package statusflow вычисляет прогресс заказа по его ручным событиям.
package statusflow

import (
	"strings"

	"github.com/lidercargo/cargotrack/internal/models"
)

// Terminal — число шагов: progress == Terminal означает "полностью доставлен".
const Terminal = len(models.StatusFlow)

// TagForText восстанавливает тег по отрисованному тексту. Нужен только для
// старых событий, записанных без тега: шаг "прибыл" сопоставляется по
// префиксу (текст отрисован из шаблона и длиннее канонической метки),
// остальные — по точному равенству.
func TagForText(status string) models.StatusTag {
	switch status {
	case models.StatusTextWarehouseCN:
		return models.StatusTagWarehouseCN
	case models.StatusTextDispatched:
		return models.StatusTagDispatched
	case models.StatusTextCollected:
		return models.StatusTagCollected
	}
	if strings.HasPrefix(status, models.StatusTextArrivedPrefix) {
		return models.StatusTagArrivedPVZ
	}
	return models.StatusTagNone
}

// EventTag — тег события: хранимый, либо восстановленный из текста.
func EventTag(e *models.TrackingEvent) models.StatusTag {
	if e.StatusTag != models.StatusTagNone {
		return e.StatusTag
	}
	return TagForText(e.Status)
}

// Progress — наибольший префикс k потока, для которого каждый шаг i < k
// подтверждён хотя бы одним ручным событием. Авто-события не участвуют.
func Progress(events []*models.TrackingEvent) int {
	seen := make(map[models.StatusTag]bool, Terminal)
	for _, e := range events {
		if !e.IsManual() {
			continue
		}
		if tag := EventTag(e); tag != models.StatusTagNone {
			seen[tag] = true
		}
	}

	k := 0
	for _, step := range models.StatusFlow {
		if !seen[step] {
			break
		}
		k++
	}
	return k
}

// NextTag — следующий требуемый шаг; ok=false на терминальном прогрессе.
func NextTag(progress int) (models.StatusTag, bool) {
	if progress < 0 || progress >= Terminal {
		return models.StatusTagNone, false
	}
	return models.StatusFlow[progress], true
}

// HasStatusText — есть ли у заказа событие с таким отрисованным текстом.
// Это страховка от повторной материализации одного шаблона.
func HasStatusText(events []*models.TrackingEvent, text string) bool {
	for _, e := range events {
		if e.Status == text {
			return true
		}
	}
	return false
}
