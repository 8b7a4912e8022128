// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package compiler

// yieldTo appends outputs to dest. An empty outputs leaves dest unchanged,
// except that a nil dest becomes an empty sequence. Otherwise dest is
// normalized to a sequence (a scalar is wrapped, nil becomes empty) and each
// element of outputs is appended: a sequence element is spread one level
// deep, anything else is appended as-is.
func yieldTo(dest any, outputs []any) any {
	if len(outputs) == 0 {
		if dest == nil {
			return []any{}
		}
		return dest
	}

	seq := toSequence(dest)
	for _, o := range outputs {
		if nested, ok := o.([]any); ok {
			seq = append(seq, nested...)
			continue
		}
		seq = append(seq, o)
	}
	return seq
}

// toSequence normalizes a value to a mutable sequence: nil becomes empty, a
// sequence is copied, anything else is wrapped as a singleton.
func toSequence(v any) []any {
	if v == nil {
		return []any{}
	}
	if seq, ok := v.([]any); ok {
		out := make([]any, len(seq))
		copy(out, seq)
		return out
	}
	return []any{v}
}
