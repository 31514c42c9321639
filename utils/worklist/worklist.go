package worklist

// Stack is a LIFO worklist of pending work items. The control-flow walker
// uses it in place of recursion so that stack depth stays bounded and
// cancellation can be checked uniformly at every pop.
type Stack[T any] struct {
	list []T
}

func Empty[T any]() Stack[T] {
	return Stack[T]{}
}

func (s *Stack[T]) Push(el T) {
	s.list = append(s.list, el)
}

// Pop removes and returns the most recently pushed element.
// The second return value is false if the stack is empty.
func (s *Stack[T]) Pop() (ret T, ok bool) {
	if len(s.list) == 0 {
		return
	}
	ret = s.list[len(s.list)-1]
	s.list = s.list[:len(s.list)-1]
	return ret, true
}

func (s *Stack[T]) IsEmpty() bool {
	return len(s.list) == 0
}

func (s *Stack[T]) Len() int {
	return len(s.list)
}

// Process drains the stack through do. The iteration function receives the
// next element and may push follow-up work while it runs.
func (s *Stack[T]) Process(do func(next T)) {
	for {
		next, ok := s.Pop()
		if !ok {
			return
		}
		do(next)
	}
}
