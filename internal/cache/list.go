package cache

const nilIdx int32 = -1

// link is the intrusive prev/next pair embedded in arena elements.
type link struct {
	prev, next int32
}

// arena gives list operations access to the links of its elements.
type arena interface {
	link(i int32) *link
}

// list is a doubly linked list of arena indices. head is the MRU end, tail
// the LRU end. All operations are O(1) and pointer free.
type list struct {
	head, tail int32
	len        int
}

func newList() list {
	return list{head: nilIdx, tail: nilIdx}
}

func (l *list) pushFront(a arena, i int32) {
	n := a.link(i)
	n.prev = nilIdx
	n.next = l.head
	if l.head != nilIdx {
		a.link(l.head).prev = i
	} else {
		l.tail = i
	}
	l.head = i
	l.len++
}

func (l *list) remove(a arena, i int32) {
	n := a.link(i)
	if n.prev != nilIdx {
		a.link(n.prev).next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nilIdx {
		a.link(n.next).prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.prev, n.next = nilIdx, nilIdx
	l.len--
}

func (l *list) moveToFront(a arena, i int32) {
	if l.head == i {
		return
	}
	l.remove(a, i)
	l.pushFront(a, i)
}

// walkBack calls fn from the LRU end towards the MRU end until fn returns true.
func (l *list) walkBack(a arena, fn func(i int32) bool) (int32, bool) {
	for i := l.tail; i != nilIdx; i = a.link(i).prev {
		if fn(i) {
			return i, true
		}
	}
	return nilIdx, false
}
