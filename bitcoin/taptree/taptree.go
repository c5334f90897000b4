// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package taptree

import (
	"bytes"
	"container/heap"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/BoostyLabs/btcpipeline/bitcoin"
)

// maxDepth defines max taproot control block depth (BIP-341).
const maxDepth = txscript.ControlBlockMaxNodeCount

var (
	// ErrEmptyTree defines that tree can not be built without leaves.
	ErrEmptyTree = errors.New("no leaf scripts provided")
	// ErrLeafNotFound defines that requested script is not a leaf of the tree.
	ErrLeafNotFound = errors.New("leaf script not found in tree")
	// ErrTreeTooDeep defines that leaf is placed deeper than control block allows.
	ErrTreeTooDeep = errors.New("tap tree is too deep")
)

// WeightedScript is a leaf script with its spending probability weight.
type WeightedScript struct {
	Weight uint32
	Script []byte
}

// node is a tree vertex, leaf when leaf != nil.
type node struct {
	hash        chainhash.Hash
	left, right *node
	leaf        *txscript.TapLeaf
}

// Tree is a taproot script tree committed by its merkle root.
type Tree struct {
	root   *node
	leaves []*leafInfo
}

// leafInfo keeps leaf position data, leaves are kept in insertion order.
type leafInfo struct {
	leaf     txscript.TapLeaf
	depth    int
	siblings []chainhash.Hash // bottom-up.
}

// LeafHash returns tagged TapLeaf hash of the script with base leaf version.
func LeafHash(script []byte) chainhash.Hash {
	return txscript.NewBaseTapLeaf(script).TapHash()
}

// BuildHuffman builds the tree with minimal total weighted depth,
// ties are resolved in favour of earlier inserted scripts.
func BuildHuffman(scripts []WeightedScript) (*Tree, error) {
	if len(scripts) == 0 {
		return nil, ErrEmptyTree
	}

	queue := make(priorityQueue, 0, len(scripts))
	leaves := make([]*node, len(scripts))
	for i, script := range scripts {
		leaf := txscript.NewBaseTapLeaf(script.Script)
		leaves[i] = &node{hash: leaf.TapHash(), leaf: &leaf}
		queue = append(queue, &queueItem{node: leaves[i], weight: uint64(script.Weight), seq: i})
	}
	heap.Init(&queue)

	seq := len(scripts)
	for queue.Len() > 1 {
		first := heap.Pop(&queue).(*queueItem)
		second := heap.Pop(&queue).(*queueItem)

		heap.Push(&queue, &queueItem{
			node:   newBranch(first.node, second.node),
			weight: first.weight + second.weight,
			seq:    seq,
		})
		seq++
	}

	return newTree(queue[0].node, leaves)
}

// newBranch returns branch node hashed as TapBranch of lexicographically sorted children.
func newBranch(left, right *node) *node {
	branch := txscript.NewTapBranch(hashNode(left.hash), hashNode(right.hash))

	return &node{hash: branch.TapHash(), left: left, right: right}
}

// newTree indexes leaves of the built tree, order of leaves defines lookup order.
func newTree(root *node, leaves []*node) (*Tree, error) {
	positions := make(map[*node]*leafInfo, len(leaves))
	var walk func(n *node, depth int, siblings []chainhash.Hash) error
	walk = func(n *node, depth int, siblings []chainhash.Hash) error {
		if depth > maxDepth {
			return ErrTreeTooDeep
		}
		if n.leaf != nil {
			path := make([]chainhash.Hash, len(siblings))
			for i := range siblings {
				path[i] = siblings[len(siblings)-1-i]
			}
			positions[n] = &leafInfo{leaf: *n.leaf, depth: depth, siblings: path}
			return nil
		}

		if err := walk(n.left, depth+1, append(append([]chainhash.Hash(nil), siblings...), n.right.hash)); err != nil {
			return err
		}

		return walk(n.right, depth+1, append(append([]chainhash.Hash(nil), siblings...), n.left.hash))
	}
	if err := walk(root, 0, nil); err != nil {
		return nil, err
	}

	tree := &Tree{root: root, leaves: make([]*leafInfo, len(leaves))}
	for i, leaf := range leaves {
		tree.leaves[i] = positions[leaf]
	}

	return tree, nil
}

// MerkleRoot returns tree root hash used as taproot tweak.
func (tree *Tree) MerkleRoot() chainhash.Hash {
	return tree.root.hash
}

// Leaves returns tree leaves in insertion order.
func (tree *Tree) Leaves() []txscript.TapLeaf {
	leaves := make([]txscript.TapLeaf, len(tree.leaves))
	for i, info := range tree.leaves {
		leaves[i] = info.leaf
	}

	return leaves
}

// Depth returns depth of the leaf, root is at zero depth.
func (tree *Tree) Depth(script []byte) (int, error) {
	info, err := tree.find(script)
	if err != nil {
		return 0, err
	}

	return info.depth, nil
}

// LeafHash returns hash of the tree leaf with provided script.
func (tree *Tree) LeafHash(script []byte) (chainhash.Hash, error) {
	info, err := tree.find(script)
	if err != nil {
		return chainhash.Hash{}, err
	}

	return info.leaf.TapHash(), nil
}

// InclusionProof returns concatenated sibling hashes from the leaf up to the root.
func (tree *Tree) InclusionProof(script []byte) ([]byte, error) {
	info, err := tree.find(script)
	if err != nil {
		return nil, err
	}

	proof := make([]byte, 0, len(info.siblings)*chainhash.HashSize)
	for _, sibling := range info.siblings {
		proof = append(proof, sibling[:]...)
	}

	return proof, nil
}

// ControlBlock returns control block revealing script under internal key.
func (tree *Tree) ControlBlock(script []byte, internalKey *btcec.PublicKey) (*txscript.ControlBlock, error) {
	proof, err := tree.InclusionProof(script)
	if err != nil {
		return nil, err
	}

	root := tree.MerkleRoot()
	outputKey := txscript.ComputeTaprootOutputKey(internalKey, root[:])

	return &txscript.ControlBlock{
		InternalKey:     internalKey,
		OutputKeyYIsOdd: outputKey.SerializeCompressed()[0] == secp256k1.PubKeyFormatCompressedOdd,
		LeafVersion:     txscript.BaseLeafVersion,
		InclusionProof:  proof,
	}, nil
}

// Serialize encodes tree as psbt output tap tree (BIP-371): depth-first list of {depth, leaf version, script}.
func (tree *Tree) Serialize() ([]byte, error) {
	var (
		buf  bytes.Buffer
		walk func(n *node, depth int) error
	)
	walk = func(n *node, depth int) error {
		if n.leaf == nil {
			if err := walk(n.left, depth+1); err != nil {
				return err
			}

			return walk(n.right, depth+1)
		}

		buf.WriteByte(byte(depth))
		buf.WriteByte(byte(n.leaf.LeafVersion))

		return wire.WriteVarBytes(&buf, 0, n.leaf.Script)
	}
	if err := walk(tree.root, 0); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode rebuilds tree from its psbt output tap tree encoding.
func Decode(serialized []byte) (*Tree, error) {
	type stackItem struct {
		node  *node
		depth int
	}

	var (
		reader = bytes.NewReader(serialized)
		stack  []stackItem
		leaves []*node
	)
	for reader.Len() > 0 {
		depth, err := reader.ReadByte()
		if err != nil {
			return nil, err
		}
		version, err := reader.ReadByte()
		if err != nil {
			return nil, err
		}
		script, err := wire.ReadVarBytes(reader, 0, txscript.MaxScriptSize, "tap leaf script")
		if err != nil {
			return nil, err
		}
		if int(depth) > maxDepth {
			return nil, ErrTreeTooDeep
		}

		leaf := txscript.NewTapLeaf(txscript.TapscriptLeafVersion(version), script)
		current := stackItem{node: &node{hash: leaf.TapHash(), leaf: &leaf}, depth: int(depth)}
		leaves = append(leaves, current.node)

		for len(stack) > 0 && stack[len(stack)-1].depth == current.depth {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			current = stackItem{node: newBranch(top.node, current.node), depth: current.depth - 1}
		}
		stack = append(stack, current)
	}

	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}
	if len(stack) != 1 || stack[0].depth != 0 {
		return nil, errors.New("malformed tap tree encoding")
	}

	return newTree(stack[0].node, leaves)
}

// VerifyControlBlock checks that control block commits script to the taproot output script.
func VerifyControlBlock(controlBlock, pkScript, script []byte) error {
	if !txscript.IsPayToTaproot(pkScript) {
		return errors.Join(bitcoin.ErrInvalidCommitment, errors.New("output script is not pay-to-taproot"))
	}

	parsed, err := txscript.ParseControlBlock(controlBlock)
	if err != nil {
		return errors.Join(bitcoin.ErrInvalidCommitment, err)
	}

	if err = txscript.VerifyTaprootLeafCommitment(parsed, pkScript[2:], script); err != nil {
		return errors.Join(bitcoin.ErrInvalidCommitment, err)
	}

	return nil
}

// find returns first leaf with provided script.
func (tree *Tree) find(script []byte) (*leafInfo, error) {
	for _, info := range tree.leaves {
		if bytes.Equal(info.leaf.Script, script) {
			return info, nil
		}
	}

	return nil, ErrLeafNotFound
}

// hashNode adapts precomputed hash to txscript.TapNode.
type hashNode chainhash.Hash

// TapHash implements txscript.TapNode.
func (h hashNode) TapHash() chainhash.Hash {
	return chainhash.Hash(h)
}

// Left implements txscript.TapNode.
func (h hashNode) Left() txscript.TapNode {
	return nil
}

// Right implements txscript.TapNode.
func (h hashNode) Right() txscript.TapNode {
	return nil
}
