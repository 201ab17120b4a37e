package structs

import (
	"sort"

	"golang.org/x/exp/constraints"
)

type empty = struct{}

// Set — множество значений типа T
type Set[T comparable] map[T]empty

// NewSet создаёт множество из переданных значений
func NewSet[T comparable](values ...T) Set[T] {
	res := make(Set[T], len(values))
	for _, v := range values {
		res[v] = empty{}
	}
	return res
}

func (s Set[T]) Add(value T) {
	s[value] = empty{}
}

func (s Set[T]) Remove(value T) {
	delete(s, value)
}

func (s Set[T]) Contains(value T) bool {
	_, exists := s[value]
	return exists
}

func (s Set[T]) Size() int {
	return len(s)
}

// Difference возвращает элементы s, которых нет в other
func (s Set[T]) Difference(other Set[T]) Set[T] {
	result := NewSet[T]()
	for v := range s {
		if !other.Contains(v) {
			result.Add(v)
		}
	}
	return result
}

// Equal сравнивает множества поэлементно
func (s Set[T]) Equal(other Set[T]) bool {
	if len(s) != len(other) {
		return false
	}
	for v := range s {
		if !other.Contains(v) {
			return false
		}
	}
	return true
}

// Sorted возвращает элементы множества в порядке возрастания
func Sorted[T constraints.Ordered](s Set[T]) []T {
	values := make([]T, 0, len(s))
	for v := range s {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	return values
}
