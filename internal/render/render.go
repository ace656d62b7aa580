// Package render подставляет именованные плейсхолдеры вида {name} в тексты
// шаблонов статусов.
package render

import (
	"strings"

	"github.com/lidercargo/cargotrack/internal/models"
)

// Context — значения плейсхолдеров одного заказа.
type Context struct {
	PickupPoint    string
	CodePair       string
	TrackingNumber string
	Address        string
}

func (c Context) values() map[string]string {
	return map[string]string{
		"pickup_point":    c.PickupPoint,
		"code_pair":       c.CodePair,
		"tracking_number": c.TrackingNumber,
		"address":         c.Address,
	}
}

// NewContext собирает контекст заказа. Какой именно ПВЗ сюда попадает
// (владельца заказа или сканирующего сотрудника) решает вызывающий;
// pp и wh могут быть nil — тогда остаются пустые строки.
func NewContext(trackingNumber string, pp *models.PickupPoint, wh *models.WarehouseCN) Context {
	ctx := Context{TrackingNumber: trackingNumber}
	if pp != nil {
		ctx.PickupPoint = pp.CodeLabel
		ctx.CodePair = pp.CodePair()
		ctx.Address = pp.Address
	}
	if wh != nil && wh.AddressCN != "" && ctx.Address == "" {
		ctx.Address = wh.AddressCN
	}
	return ctx
}

// Render подставляет значения в текст шаблона. Любая ошибка подстановки
// (неизвестный плейсхолдер, незакрытая скобка) деградирует в исходный текст:
// сломанный шаблон не должен ронять сканирование.
func Render(tmpl string, ctx Context) string {
	out, ok := tryRender(tmpl, ctx.values())
	if !ok {
		return tmpl
	}
	return out
}

func tryRender(tmpl string, vals map[string]string) (string, bool) {
	var b strings.Builder
	b.Grow(len(tmpl))

	for {
		open := strings.IndexByte(tmpl, '{')
		if open < 0 {
			b.WriteString(tmpl)
			return b.String(), true
		}
		b.WriteString(tmpl[:open])

		rest := tmpl[open+1:]
		closeIdx := strings.IndexByte(rest, '}')
		if closeIdx < 0 {
			return "", false
		}
		name := rest[:closeIdx]
		val, known := vals[name]
		if !known {
			return "", false
		}
		b.WriteString(val)
		tmpl = rest[closeIdx+1:]
	}
}
