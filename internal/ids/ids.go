// Package ids defines the small dense identifier types shared by the trie
// and kernel pool.
package ids

// TrieID indexes a node in the byte trie's block allocator. Id 0 is always
// the root.
type TrieID = uint32

// KernelID indexes a slot in the per-thread kernel pool. Sentinel is the
// "no kernels allocated yet" marker for a trie terminal.
type KernelID = uint32

// Sentinel marks a trie node's k_id field as "no kernel slots allocated".
const Sentinel KernelID = 0xFFFFFFFF
