package mentorship

import (
	"encoding/json"
	"sort"
	"strings"
)

// Set — множество строковых меток: навыки, интересы, категории экспертизы.
//
// Нормализация выполняется один раз, при создании: пробелы по краям
// обрезаются, пустые значения отбрасываются, дубликаты схлопываются.
// Сравнение точное и чувствительно к регистру. Нулевое значение — пустое множество.
type Set struct {
	items map[string]struct{}
}

// NewSet создаёт нормализованное множество из значений.
func NewSet(values ...string) Set {
	items := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		items[v] = struct{}{}
	}
	return Set{items: items}
}

// Has проверяет точное вхождение значения.
func (s Set) Has(v string) bool {
	_, ok := s.items[v]
	return ok
}

// Len возвращает размер множества.
func (s Set) Len() int {
	return len(s.items)
}

// IsEmpty возвращает true для пустого множества.
func (s Set) IsEmpty() bool {
	return len(s.items) == 0
}

// Intersection возвращает отсортированные общие элементы двух множеств.
func (s Set) Intersection(other Set) []string {
	small, large := s, other
	if small.Len() > large.Len() {
		small, large = large, small
	}
	out := make([]string, 0, small.Len())
	for v := range small.items {
		if large.Has(v) {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// IntersectionSize возвращает |s ∩ other| без выделения памяти под элементы.
func (s Set) IntersectionSize(other Set) int {
	small, large := s, other
	if small.Len() > large.Len() {
		small, large = large, small
	}
	n := 0
	for v := range small.items {
		if large.Has(v) {
			n++
		}
	}
	return n
}

// Values возвращает элементы в отсортированном порядке. Никогда не nil.
func (s Set) Values() []string {
	out := make([]string, 0, len(s.items))
	for v := range s.items {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON кодирует множество как отсортированный массив строк.
func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Values())
}

// UnmarshalJSON принимает только массив строк и нормализует его.
func (s *Set) UnmarshalJSON(data []byte) error {
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*s = NewSet(values...)
	return nil
}
