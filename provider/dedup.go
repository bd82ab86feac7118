package provider

import (
	"strconv"
	"strings"
	"unicode"
)

// Normalize приводит текст к виду для сравнения: нижний регистр,
// не буквы и не цифры заменяются пробелами, пробелы схлопываются
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	space := true
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// finalDedup пропускает только первый Final для одной реплики.
// Реплика определяется ключом провайдера (item_id, turn_order) или,
// если ключа нет, номером реплики, который растёт при первом промежуточном
// тексте после Final.
type finalDedup struct {
	lastKey  string
	lastNorm string
	hasLast  bool
}

// accept true если Final нужно выдать
func (d *finalDedup) accept(key, text string) bool {
	norm := Normalize(text)
	if norm == "" {
		return false
	}
	if d.hasLast && key == d.lastKey && norm == d.lastNorm {
		return false
	}
	d.lastKey = key
	d.lastNorm = norm
	d.hasLast = true
	return true
}

func (d *finalDedup) reset() {
	*d = finalDedup{}
}

// turnCounter номер реплики для провайдеров без собственного идентификатора
type turnCounter struct {
	turn       int
	afterFinal bool
}

// partial отмечает промежуточный текст: после Final он открывает новую реплику
func (t *turnCounter) partial() {
	if t.afterFinal {
		t.turn++
		t.afterFinal = false
	}
}

func (t *turnCounter) final() { t.afterFinal = true }

func (t *turnCounter) key() string { return strconv.Itoa(t.turn) }
