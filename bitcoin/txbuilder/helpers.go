// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/btcsuite/btcd/btcutil/psbt"
)

// SchemaTagUnknowns encodes input indexes of every schema as global PSBT unknowns,
// key is a single tag byte and every value byte is an input index.
func SchemaTagUnknowns(tags map[SchemaTag][]int) ([]*psbt.Unknown, error) {
	keys := make([]SchemaTag, 0, len(tags))
	for tag := range tags {
		if _, err := SchemaTagFromBytes(tag.Bytes()); err != nil {
			return nil, err
		}

		keys = append(keys, tag)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	unknowns := make([]*psbt.Unknown, 0, len(keys))
	for _, tag := range keys {
		value := make([]byte, len(tags[tag]))
		for i, index := range tags[tag] {
			if index < 0 || index > math.MaxUint8 {
				return nil, fmt.Errorf("input index %d can not be tagged", index)
			}

			value[i] = byte(index)
		}

		unknowns = append(unknowns, &psbt.Unknown{Key: tag.Bytes(), Value: value})
	}

	return unknowns, nil
}

// ExtractSchemaInputIndexes returns map with schema tags and indexes of inputs to sign.
func ExtractSchemaInputIndexes(p *psbt.Packet) (map[SchemaTag][]int, error) {
	var result = make(map[SchemaTag][]int, 4)
	for _, unknown := range p.Unknowns {
		if len(unknown.Key) != 1 {
			continue
		}

		tag, err := SchemaTagFromBytes(unknown.Key)
		if err != nil {
			return nil, errors.Join(err, fmt.Errorf("key %x", unknown.Key))
		}

		result[tag] = make([]int, len(unknown.Value))
		for idx, val := range unknown.Value {
			if int(val) >= len(p.Inputs) {
				return nil, fmt.Errorf("%s tag references missing input %d", tag, val)
			}

			result[tag][idx] = int(val)
		}
	}

	return result, nil
}

// ExtractSchemaInputIndexesFromPSBT parses serialized PSBT and returns its schema tags.
func ExtractSchemaInputIndexesFromPSBT(data []byte) (map[SchemaTag][]int, error) {
	p, err := psbt.NewFromRawBytes(bytes.NewReader(data), false)
	if err != nil {
		return nil, err
	}

	return ExtractSchemaInputIndexes(p)
}
