package heap

// MinHeap is a binary min-heap over comparable items. Item positions
// are tracked in a map, so Remove and Update locate an item without
// scanning the slice. Items whose ordering fields mutate in place must
// be re-announced through Update.
type MinHeap[T comparable] struct {
	items []T
	index map[T]int
	less  func(a, b T) bool
}

func NewMinHeap[T comparable](less func(a T, b T) bool) *MinHeap[T] {
	return &MinHeap[T]{
		index: make(map[T]int),
		less:  less,
	}
}

func (h *MinHeap[T]) Len() int { return len(h.items) }

func (h *MinHeap[T]) Push(item T) {
	h.items = append(h.items, item)
	h.index[item] = len(h.items) - 1
	h.siftUp(len(h.items) - 1)
}

// Pop removes and returns the smallest item. The second return value
// is false when the heap is empty.
func (h *MinHeap[T]) Pop() (T, bool) {
	var zero T
	if len(h.items) == 0 {
		return zero, false
	}
	top := h.items[0]
	h.removeAt(0)
	return top, true
}

// Peek returns the smallest item without removing it.
func (h *MinHeap[T]) Peek() (T, bool) {
	var zero T
	if len(h.items) == 0 {
		return zero, false
	}
	return h.items[0], true
}

// Remove deletes item from the heap. Returns false when the item is
// not present.
func (h *MinHeap[T]) Remove(item T) bool {
	i, ok := h.index[item]
	if !ok {
		return false
	}
	h.removeAt(i)
	return true
}

// Update restores heap order after item's ordering fields changed in
// place. Returns false when the item is not present.
func (h *MinHeap[T]) Update(item T) bool {
	i, ok := h.index[item]
	if !ok {
		return false
	}
	h.fix(i)
	return true
}

func (h *MinHeap[T]) removeAt(i int) {
	last := len(h.items) - 1
	victim := h.items[i]
	if i != last {
		h.swap(i, last)
	}
	h.items = h.items[:last]
	delete(h.index, victim)
	if i != last {
		h.fix(i)
	}
}

func (h *MinHeap[T]) fix(i int) {
	if !h.siftDown(i) {
		h.siftUp(i)
	}
}

func (h *MinHeap[T]) swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.index[h.items[i]] = i
	h.index[h.items[j]] = j
}

func (h *MinHeap[T]) siftUp(i int) bool {
	moved := false
	for i > 0 {
		p := (i - 1) / 2
		if !h.less(h.items[i], h.items[p]) {
			break
		}
		h.swap(i, p)
		i = p
		moved = true
	}
	return moved
}

func (h *MinHeap[T]) siftDown(i int) bool {
	moved := false
	for {
		smallest := i
		if l := 2*i + 1; l < len(h.items) && h.less(h.items[l], h.items[smallest]) {
			smallest = l
		}
		if r := 2*i + 2; r < len(h.items) && h.less(h.items[r], h.items[smallest]) {
			smallest = r
		}
		if smallest == i {
			return moved
		}
		h.swap(i, smallest)
		i = smallest
		moved = true
	}
}
