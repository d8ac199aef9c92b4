// File: internal/chain/node.go
package chain

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/xkilldash9x/fluentweb/api/schemas"
)

// Kind tags the operation a node performs.
type Kind int

const (
	KindOpen Kind = iota
	KindFind
	KindClick
	KindDoubleClick
	KindRightClick
	KindHover
	KindDrag
	KindFocus
	KindSelect
	KindEnter
	KindUpload
	KindWait
	KindWaitFor
	KindWaitExpect
	KindExpect
	KindScreenshot
	KindSave
)

var kindNames = [...]string{
	KindOpen:        "open",
	KindFind:        "find",
	KindClick:       "click",
	KindDoubleClick: "double_click",
	KindRightClick:  "right_click",
	KindHover:       "hover",
	KindDrag:        "drag",
	KindFocus:       "focus",
	KindSelect:      "select",
	KindEnter:       "enter",
	KindUpload:      "upload",
	KindWait:        "wait",
	KindWaitFor:     "wait_for",
	KindWaitExpect:  "wait_expect",
	KindExpect:      "expect",
	KindScreenshot:  "screenshot",
	KindSave:        "save",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// SideEffects reports whether nodes of this kind change page state and so
// must be paced and fully settled before the next node runs.
func (k Kind) SideEffects() bool {
	switch k {
	case KindOpen, KindClick, KindDoubleClick, KindRightClick, KindHover,
		KindDrag, KindFocus, KindSelect, KindEnter, KindUpload:
		return true
	}
	return false
}

// State is the execution state of a node or context.
type State int

const (
	StatePending State = iota
	StateRunning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// -- Targets --

type targetKind int

const (
	targetPrevious targetKind = iota
	targetSelector
	targetElements
	targetPoint
)

// Target names the elements a node acts on. The zero value is Previous.
type Target struct {
	kind     targetKind
	selector string
	elements []schemas.DomElement
	x, y     int
}

// Previous targets the elements resolved by the preceding node.
var Previous = Target{}

// Selector targets the elements matched by sel under the engine's selector strategy.
func Selector(sel string) Target {
	return Target{kind: targetSelector, selector: sel}
}

// Elements targets already resolved elements. Their selectors carry the
// synthetic tag of the backend that resolved them, so they are only
// meaningful when replayed against that backend.
func Elements(elements ...schemas.DomElement) Target {
	return Target{kind: targetElements, elements: append([]schemas.DomElement(nil), elements...)}
}

// Point targets the topmost element at viewport coordinates (x, y). Pointer
// actions on a point land exactly on it.
func Point(x, y int) Target {
	return Target{kind: targetPoint, x: x, y: y}
}

func (t Target) String() string {
	switch t.kind {
	case targetSelector:
		return fmt.Sprintf("%q", t.selector)
	case targetElements:
		return schemas.CombinedSelector(t.elements)
	case targetPoint:
		return fmt.Sprintf("point(%d,%d)", t.x, t.y)
	}
	return "previous"
}

// -- Nodes --

// Predicate is polled by WaitFor nodes until it returns true.
type Predicate func(ctx context.Context) (bool, error)

// Check evaluates an Expect assertion against one backend. It returns the
// observed value for the failure message and whether the assertion held.
type Check func(ctx context.Context, b schemas.Backend, elements []schemas.DomElement) (actual string, ok bool, err error)

type expectation struct {
	description string
	target      Target
	needsTarget bool
	check       Check
}

// payload is the configuration a node carries. It is copied by Clone.
type payload struct {
	target   Target
	dest     Target
	offset   schemas.Offset
	uri      string
	text     string
	value    string
	index    int
	byIndex  bool
	path     string
	scoped   bool
	duration time.Duration
	timeout  time.Duration
	until    Predicate
	expect   *expectation
	expects  []*expectation
}

// Node is one queued operation. It lives in its context's arena and refers
// to its parent by arena index, -1 for a chain root.
type Node struct {
	Kind   Kind
	parent int

	payload payload

	state    State
	elements [][]schemas.DomElement
	images   []image.Image
}

// Parent returns the arena index of the node's parent, or -1.
func (n *Node) Parent() int { return n.parent }

// State returns the node's execution state.
func (n *Node) State() State { return n.state }

// Elements returns the elements the node resolved to on backend index b.
func (n *Node) Elements(b int) []schemas.DomElement {
	if b < 0 || b >= len(n.elements) {
		return nil
	}
	return n.elements[b]
}

// Clone returns a pending node of the same kind and parent carrying the
// same configuration. Resolved elements, images and state are not copied.
func (n *Node) Clone() *Node {
	return &Node{Kind: n.Kind, parent: n.parent, payload: n.payload}
}

// NodeError reports the node and backend a chain failed on.
type NodeError struct {
	ChainID string
	Index   int
	Kind    Kind
	Backend string
	Err     error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("chain %s: node %d (%s) on %s: %v", e.ChainID, e.Index, e.Kind, e.Backend, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }
