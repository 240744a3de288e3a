// Package merge implements Component B: a lazy pairs merger that
// aligns two index-sorted sequences into a sequence of (left?, right?)
// pairs.
//
// Grounded in Design Notes §9: "a pairs merger returning a lazy
// iterator" is the re-architecture the source's callback-driven,
// counter-tracked interleave should have been. Built on Go's
// range-over-func iterators (iter.Seq2) so both inputs and the output
// are ordinary lazy sequences, with no shared mutable counters.
package merge

import "iter"

// Pair is one step of a merge: at most one of Left, Right is present
// per the alignment rules in Component B §4.B.
type Pair[T any] struct {
	Left  *T
	Right *T
}

// Merge interleaves two finite, index-sorted sequences left and right
// into pairs, using indexOf to compare elements. On each step:
//   - both present and indexOf equal: emit (left, right), advance both.
//   - left < right, or right exhausted: emit (left, nil), advance left.
//   - left > right, or left exhausted: emit (nil, right), advance right.
//
// Terminates when both are exhausted. An error from either input is
// propagated immediately, as the error of the last pair yielded (pairs
// already aligned before it have been yielded normally), and both
// cursors are released, whether by natural exhaustion, an error, or
// the consumer stopping iteration early (range-over-func guarantees
// the deferred Pull2 stop funcs run on any return path).
func Merge[T any](left, right iter.Seq2[T, error], indexOf func(T) uint64) iter.Seq2[Pair[T], error] {
	return func(yield func(Pair[T], error) bool) {
		nextLeft, stopLeft := iter.Pull2(left)
		defer stopLeft()
		nextRight, stopRight := iter.Pull2(right)
		defer stopRight()

		l, errL, okL := nextLeft()
		r, errR, okR := nextRight()

		for okL || okR {
			if errL != nil {
				yield(Pair[T]{}, errL)
				return
			}
			if errR != nil {
				yield(Pair[T]{}, errR)
				return
			}

			switch {
			case okL && okR && indexOf(l) == indexOf(r):
				ll, rr := l, r
				if !yield(Pair[T]{Left: &ll, Right: &rr}, nil) {
					return
				}
				l, errL, okL = nextLeft()
				r, errR, okR = nextRight()
			case okL && (!okR || indexOf(l) < indexOf(r)):
				ll := l
				if !yield(Pair[T]{Left: &ll}, nil) {
					return
				}
				l, errL, okL = nextLeft()
			default: // okR && (!okL || indexOf(l) > indexOf(r))
				rr := r
				if !yield(Pair[T]{Right: &rr}, nil) {
					return
				}
				r, errR, okR = nextRight()
			}
		}
	}
}
