package table

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// EncodeItem packs an item into one blob for backends that store attributes
// as a single column.
func EncodeItem(item Item) ([]byte, error) {
	data, err := msgpack.Marshal(map[string][]byte(item))
	if err != nil {
		return nil, fmt.Errorf("failed to encode item: %w", err)
	}
	return data, nil
}

func DecodeItem(data []byte) (Item, error) {
	var attrs map[string][]byte
	if err := msgpack.Unmarshal(data, &attrs); err != nil {
		return nil, fmt.Errorf("failed to decode item: %w", err)
	}
	if attrs == nil {
		attrs = map[string][]byte{}
	}
	return Item(attrs), nil
}
