package server

import "iter"

// Result is what a Handler returns: either a single JSON value or a lazy
// stream of chunks. Build one with Value or Stream.
type Result struct {
	value  any
	stream iter.Seq2[any, error]
}

// Value returns a Result serialized as the JSON response body.
func Value(v any) Result {
	return Result{value: v}
}

// Stream returns a Result whose chunks are sent as Server-Sent Events. The
// sequence is started at most once and is not restartable. Yielding a non-nil
// error terminates the stream with an error event.
func Stream(seq iter.Seq2[any, error]) Result {
	if seq == nil {
		seq = func(func(any, error) bool) {}
	}
	return Result{stream: seq}
}

// StreamOf adapts a plain sequence of chunks into a streaming Result.
func StreamOf[T any](seq iter.Seq[T]) Result {
	return Stream(func(yield func(any, error) bool) {
		for v := range seq {
			if !yield(v, nil) {
				return
			}
		}
	})
}

// IsStream reports whether r is a streaming result.
func (r Result) IsStream() bool { return r.stream != nil }
