package tree

import (
	"fmt"
	"strings"

	"github.com/benbjohnson/immutable"
)

// Tree is a persistent key-value map with structural sharing, used to
// represent machine state that must be snapshotted in O(1) at every
// discovered control-flow edge. Updates return a new tree; the original
// is never mutated, so a stored tree value is a valid snapshot.
//
// The implementation is a patricia tree over hashed keys:
// http://ittc.ku.edu/~andygill/papers/IntMap98.pdf
type Tree[K, V any] struct {
	hasher immutable.Hasher[K]
	root   node[K, V]
}

// New constructs an empty persistent map with the specified hasher.
func New[K, V any](hasher immutable.Hasher[K]) Tree[K, V] {
	return Tree[K, V]{hasher, nil}
}

// Lookup returns the value bound to key, if any.
func (tree Tree[K, V]) Lookup(key K) (V, bool) {
	// Hashing can be expensive, so the key is hashed once here and the
	// hash passed down.
	return lookup(tree.root, tree.hasher.Hash(key), key, tree.hasher)
}

// Insert binds key to value, replacing any previous binding.
func (tree Tree[K, V]) Insert(key K, value V) Tree[K, V] {
	tree.root = insert(tree.root, tree.hasher.Hash(key), key, value, tree.hasher)
	return tree
}

// Remove drops the binding for key if one exists.
func (tree Tree[K, V]) Remove(key K) Tree[K, V] {
	tree.root = remove(tree.root, tree.hasher.Hash(key), key, tree.hasher)
	return tree
}

// ForEach calls f once for each key-value pair in the map.
func (tree Tree[K, V]) ForEach(f func(key K, value V)) {
	if tree.root != nil {
		tree.root.each(f)
	}
}

// Size returns the number of bindings. Runs in linear time.
func (tree Tree[K, V]) Size() (res int) {
	tree.ForEach(func(_ K, _ V) {
		res++
	})
	return
}

func (tree Tree[K, V]) String() string {
	var sb strings.Builder
	sb.WriteString("{")
	first := true
	tree.ForEach(func(k K, v V) {
		if !first {
			sb.WriteString(", ")
		}
		first = false
		fmt.Fprintf(&sb, "%v: %v", k, v)
	})
	sb.WriteString("}")
	return sb.String()
}

// End of public interface

type keyt = uint32

type node[K, V any] interface {
	each(func(key K, value V))
}

type branch[K, V any] struct {
	prefix keyt // common prefix of all keys in the left and right subtrees
	// A number with exactly one set bit. The position of the bit
	// determines where the prefixes of the left and right subtrees diverge.
	branchBit keyt
	left      node[K, V]
	right     node[K, V]
}

func (b *branch[K, V]) each(f func(key K, value V)) {
	b.left.each(f)
	b.right.each(f)
}

// match reports whether the key agrees with the prefix up until the
// branching bit, i.e. whether the key belongs in the branch's subtree.
func (b *branch[K, V]) match(key keyt) bool {
	return (key & (b.branchBit - 1)) == b.prefix
}

type pair[K, V any] struct {
	key   K
	value V
}

type leaf[K, V any] struct {
	// The (shared) hash value of all keys in the leaf.
	key keyt
	// List of pairs to handle hash collisions.
	values []pair[K, V]
}

func (l *leaf[K, V]) copy() *leaf[K, V] {
	return &leaf[K, V]{
		l.key,
		append([]pair[K, V](nil), l.values...),
	}
}

func (l *leaf[K, V]) each(f func(key K, value V)) {
	for _, pr := range l.values {
		f(pr.key, pr.value)
	}
}

// br is a smart branch constructor that collapses empty subtrees.
func br[K, V any](prefix, branchBit keyt, left, right node[K, V]) node[K, V] {
	if left == nil {
		return right
	} else if right == nil {
		return left
	}

	return &branch[K, V]{prefix, branchBit, left, right}
}

func lookup[K, V any](tree node[K, V], hash keyt, key K, hasher immutable.Hasher[K]) (ret V, found bool) {
	if tree == nil {
		return
	}

	switch tree := tree.(type) {
	case *leaf[K, V]:
		if tree.key == hash {
			for _, pr := range tree.values {
				if hasher.Equal(key, pr.key) {
					return pr.value, true
				}
			}
		}

		return

	case *branch[K, V]:
		rec := tree.right
		if !tree.match(hash) {
			return
		} else if zeroBit(hash, tree.branchBit) {
			rec = tree.left
		}

		return lookup(rec, hash, key, hasher)

	default:
		panic("unreachable")
	}
}

// join combines two trees t0 and t1 with distinct prefixes p0 and p1.
func join[K, V any](p0, p1 keyt, t0, t1 node[K, V]) node[K, V] {
	bbit := branchingBit(p0, p1)
	prefix := p0 & (bbit - 1)
	if zeroBit(p0, bbit) {
		return &branch[K, V]{prefix, bbit, t0, t1}
	}
	return &branch[K, V]{prefix, bbit, t1, t0}
}

func insert[K, V any](tree node[K, V], hash keyt, key K, value V, hasher immutable.Hasher[K]) node[K, V] {
	if tree == nil {
		return &leaf[K, V]{key: hash, values: []pair[K, V]{{key, value}}}
	}

	var prefix keyt
	switch tree := tree.(type) {
	case *leaf[K, V]:
		if tree.key == hash {
			for i, pr := range tree.values {
				if hasher.Equal(key, pr.key) {
					lf := tree.copy()
					lf.values[i].value = value
					return lf
				}
			}

			// Hash collision - append to the list of pairs in the leaf.
			lf := tree.copy()
			lf.values = append(lf.values, pair[K, V]{key, value})
			return lf
		}

		prefix = tree.key

	case *branch[K, V]:
		if tree.match(hash) {
			l, r := tree.left, tree.right
			if zeroBit(hash, tree.branchBit) {
				l = insert(l, hash, key, value, hasher)
			} else {
				r = insert(r, hash, key, value, hasher)
			}
			return &branch[K, V]{tree.prefix, tree.branchBit, l, r}
		}

		prefix = tree.prefix

	default:
		panic("unreachable")
	}

	newLeaf := insert[K, V](nil, hash, key, value, hasher)
	return join(hash, prefix, newLeaf, tree)
}

func remove[K, V any](tree node[K, V], hash keyt, key K, hasher immutable.Hasher[K]) node[K, V] {
	if tree == nil {
		return nil
	}

	switch tree := tree.(type) {
	case *leaf[K, V]:
		if tree.key != hash {
			return tree
		}
		for i, pr := range tree.values {
			if hasher.Equal(key, pr.key) {
				if len(tree.values) == 1 {
					return nil
				}
				lf := tree.copy()
				lf.values = append(lf.values[:i], lf.values[i+1:]...)
				return lf
			}
		}
		return tree

	case *branch[K, V]:
		if !tree.match(hash) {
			return tree
		}
		if zeroBit(hash, tree.branchBit) {
			return br(tree.prefix, tree.branchBit,
				remove(tree.left, hash, key, hasher), tree.right)
		}
		return br(tree.prefix, tree.branchBit,
			tree.left, remove(tree.right, hash, key, hasher))

	default:
		panic("unreachable")
	}
}
