package manualbook

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shivam-909/gofullymanual/alloc"
	"github.com/shivam-909/gofullymanual/internal/orderbook"
)

var (
	ErrAllocation = errors.New("manualbook: allocation failed")
	ErrNotFound   = errors.New("manualbook: order not found")
)

// Book implements orderbook.OrderBook using a BST whose nodes live on a
// binned heap rather than the Go heap.
type Book struct {
	h    alloc.Heap
	tree *orderbook.OrderBookNode
	size int
}

// New creates an empty book allocating from h.
func New(h alloc.Heap) *Book {
	return &Book{h: h}
}

// newNode allocates a new OrderBookNode for the given Order from the heap.
func (b *Book) newNode(o orderbook.Order) *orderbook.OrderBookNode {
	node := alloc.Allocate[orderbook.OrderBookNode](b.h)
	if node == nil {
		return nil
	}
	node.Order = o
	return node
}

// Insert adds a new order into the BST keyed by Order.Id.
// Duplicates (same ID) go to the right.
func (b *Book) Insert(o orderbook.Order) error {
	nn := b.newNode(o)
	if nn == nil {
		return ErrAllocation
	}
	b.size++

	if b.tree == nil {
		b.tree = nn
		return nil
	}

	curr := b.tree
	for {
		if o.Id < curr.Order.Id {
			if curr.Left == nil {
				curr.Left = nn
				return nil
			}
			curr = curr.Left
		} else {
			if curr.Right == nil {
				curr.Right = nn
				return nil
			}
			curr = curr.Right
		}
	}
}

// Remove locates a node by its Order.Id and removes it from the BST.
// If a node to remove has two children, we use the in-order successor
// (the leftmost node in its right subtree). This logic is carefully
// done to avoid creating cycles.
func (b *Book) Remove(id int) error {
	parent, node, isLeft := b.findNodeById(id)
	if node == nil {
		return ErrNotFound
	}

	var replacement *orderbook.OrderBookNode

	switch {
	// Case 1: node is a leaf
	case node.Left == nil && node.Right == nil:
		replacement = nil

	// Case 2: node has only a right subtree
	case node.Left == nil:
		replacement = node.Right

	// Case 3: node has only a left subtree
	case node.Right == nil:
		replacement = node.Left

	// Case 4: node has both left & right subtrees => find successor
	default:
		succParent, successor := b.findSuccessor(node.Right)

		// If successor has a parent that isn't this node,
		// then we detach successor from that parent's left
		// and reattach successor's right subtree there.
		if succParent != nil && succParent != node {
			succParent.Left = successor.Right
			successor.Right = node.Right
		}

		// The successor always takes the left subtree
		successor.Left = node.Left
		replacement = successor
	}

	// Now link 'replacement' into the tree
	if parent == nil {
		b.tree = replacement // node was root
	} else if isLeft {
		parent.Left = replacement
	} else {
		parent.Right = replacement
	}

	// Free the removed node
	alloc.Free(b.h, node)
	b.size--
	return nil
}

// findNodeById walks the BST to find the node whose Order.Id == id.
// Returns (parent, node, isLeftChild).
func (b *Book) findNodeById(id int) (*orderbook.OrderBookNode, *orderbook.OrderBookNode, bool) {
	var (
		parent  *orderbook.OrderBookNode
		current = b.tree
		isLeft  bool
	)

	for current != nil {
		if id == current.Order.Id {
			return parent, current, isLeft
		}
		parent = current
		if id < current.Order.Id {
			current = current.Left
			isLeft = true
		} else {
			current = current.Right
			isLeft = false
		}
	}
	return nil, nil, false
}

// findSuccessor returns (parent, successor) for the leftmost node in 'root'.
// Called by Remove to find the in-order successor in node.Right.
func (b *Book) findSuccessor(root *orderbook.OrderBookNode) (*orderbook.OrderBookNode, *orderbook.OrderBookNode) {
	if root == nil {
		return nil, nil
	}
	var (
		parent *orderbook.OrderBookNode
		curr   = root
	)
	for curr.Left != nil {
		parent = curr
		curr = curr.Left
	}
	return parent, curr
}

// Len reports the number of orders in the book.
func (b *Book) Len() int {
	return b.size
}

// Release frees every node still in the book.
func (b *Book) Release() {
	var release func(node *orderbook.OrderBookNode)
	release = func(node *orderbook.OrderBookNode) {
		if node == nil {
			return
		}
		release(node.Left)
		release(node.Right)
		alloc.Free(b.h, node)
	}
	release(b.tree)
	b.tree = nil
	b.size = 0
}

// Print writes every order to w, sells above buys, highest id first.
func (b *Book) Print(w io.Writer) {
	var buyOrders, sellOrders []orderbook.Order

	var collect func(node *orderbook.OrderBookNode)
	collect = func(node *orderbook.OrderBookNode) {
		if node == nil {
			return
		}
		collect(node.Left)
		if node.Order.Side == orderbook.OrderSideBuy {
			buyOrders = append(buyOrders, node.Order)
		} else {
			sellOrders = append(sellOrders, node.Order)
		}
		collect(node.Right)
	}
	collect(b.tree)

	fmt.Fprintln(w, "\nOrder Book")
	fmt.Fprintln(w, strings.Repeat("-", 40))

	fmt.Fprintln(w, "Sells:")
	for i := len(sellOrders) - 1; i >= 0; i-- {
		o := sellOrders[i]
		fmt.Fprintf(w, "Price: %d, Quantity: %d, ID: %d\n", o.Price, o.Qty, o.Id)
	}

	fmt.Fprintln(w, strings.Repeat("-", 40))

	fmt.Fprintln(w, "Buys:")
	for i := len(buyOrders) - 1; i >= 0; i-- {
		o := buyOrders[i]
		fmt.Fprintf(w, "Price: %d, Quantity: %d, ID: %d\n", o.Price, o.Qty, o.Id)
	}
	fmt.Fprintln(w, strings.Repeat("-", 40))
}
