// Package validation содержит функции валидации и нормализации входных данных.
package validation

import "strings"

// NormalizePhone приводит телефон к каноничному виду +7XXXXXXXXXX.
// Ведущая «8» заменяется на «+7», 11-значный номер, начинающийся с «7»,
// получает префикс «+». Пустой результат означает, что номер распознать
// не удалось.
func NormalizePhone(value string) string {
	var b strings.Builder
	for _, ch := range value {
		if ch == '+' || (ch >= '0' && ch <= '9') {
			b.WriteRune(ch)
		}
	}
	digits := b.String()

	if strings.HasPrefix(digits, "8") {
		return "+7" + digits[1:]
	}
	if !strings.HasPrefix(digits, "+") && len(digits) == 11 && strings.HasPrefix(digits, "7") {
		return "+" + digits
	}

	return digits
}
