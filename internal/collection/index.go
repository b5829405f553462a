package collection

import "github.com/google/btree"

// indexItem is the btree.Item used for the collection's ordered key
// index, letting Scan walk documents in key order without touching the
// hot map.
type indexItem struct {
	key string
}

func (i indexItem) Less(than btree.Item) bool {
	return i.key < than.(indexItem).key
}

func newIndex() *btree.BTree {
	return btree.New(32)
}
