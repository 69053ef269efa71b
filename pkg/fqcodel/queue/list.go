/*
Copyright 2025 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package queue provides the FIFO building blocks of the scheduler: a typed list used both for a flow's packet
// backlog and for a service class's activation lists.
//
// Unlike a general-purpose concurrent queue, these lists take no locks. All access happens under the scheduler
// instance's single-writer capability.
package queue

import (
	"container/list"
	"errors"
)

var (
	// ErrInvalidHandle indicates a handle is nil or has already been invalidated.
	ErrInvalidHandle = errors.New("invalid list handle")
	// ErrNotOwner indicates a handle was issued by a different list.
	ErrNotOwner = errors.New("list handle belongs to a different list")
)

// List is a FIFO of values of type T based on `container/list`. It supports O(1) push at the tail, pop at the head,
// removal of the tail and removal of an arbitrary element through the Handle returned at insertion.
type List[T any] struct {
	items *list.List
}

// Handle identifies one element of a List. It is invalidated when the element leaves the list.
type Handle[T any] struct {
	element       *list.Element
	owner         *List[T]
	isInvalidated bool
}

// Invalidate marks this handle as no longer valid for future operations.
func (h *Handle[T]) Invalidate() { h.isInvalidated = true }

// IsInvalidated reports whether the handle has been invalidated.
func (h *Handle[T]) IsInvalidated() bool { return h == nil || h.isInvalidated }

// Value returns the element's value. It must only be called on a valid handle.
func (h *Handle[T]) Value() T { return h.element.Value.(*entry[T]).value }

type entry[T any] struct {
	value  T
	handle *Handle[T]
}

// NewList returns an empty list.
func NewList[T any]() *List[T] {
	return &List[T]{items: list.New()}
}

// Len returns the number of elements.
func (l *List[T]) Len() int { return l.items.Len() }

// Empty reports whether the list holds no elements.
func (l *List[T]) Empty() bool { return l.items.Len() == 0 }

// PushBack appends v at the tail and returns its handle.
func (l *List[T]) PushBack(v T) *Handle[T] {
	e := &entry[T]{value: v}
	h := &Handle[T]{owner: l}
	h.element = l.items.PushBack(e)
	e.handle = h
	return h
}

// PeekHead returns the head value without removing it.
func (l *List[T]) PeekHead() (T, bool) {
	return l.peek(l.items.Front())
}

// PeekTail returns the tail value without removing it.
func (l *List[T]) PeekTail() (T, bool) {
	return l.peek(l.items.Back())
}

func (l *List[T]) peek(e *list.Element) (T, bool) {
	if e == nil {
		var zero T
		return zero, false
	}
	return e.Value.(*entry[T]).value, true
}

// PopHead removes and returns the head value.
func (l *List[T]) PopHead() (T, bool) {
	return l.take(l.items.Front())
}

// PopTail removes and returns the tail value.
func (l *List[T]) PopTail() (T, bool) {
	return l.take(l.items.Back())
}

func (l *List[T]) take(e *list.Element) (T, bool) {
	if e == nil {
		var zero T
		return zero, false
	}
	ent := l.items.Remove(e).(*entry[T])
	ent.handle.Invalidate()
	return ent.value, true
}

// Remove removes the element identified by h.
func (l *List[T]) Remove(h *Handle[T]) (T, error) {
	var zero T
	if h.IsInvalidated() {
		return zero, ErrInvalidHandle
	}
	if h.owner != l {
		return zero, ErrNotOwner
	}
	ent := l.items.Remove(h.element).(*entry[T])
	h.Invalidate()
	return ent.value, nil
}

// Each calls fn for every value from head to tail until fn returns false.
func (l *List[T]) Each(fn func(v T) bool) {
	for e := l.items.Front(); e != nil; e = e.Next() {
		if !fn(e.Value.(*entry[T]).value) {
			return
		}
	}
}

// Drain removes every element and returns the values in FIFO order.
func (l *List[T]) Drain() []T {
	out := make([]T, 0, l.items.Len())
	for e := l.items.Front(); e != nil; e = e.Next() {
		ent := e.Value.(*entry[T])
		ent.handle.Invalidate()
		out = append(out, ent.value)
	}
	l.items.Init()
	return out
}
