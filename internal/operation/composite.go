package operation

import (
	"context"
	"fmt"
	"sync"

	"github.com/montagekit/montage/internal/model"
)

// Strategy selects how a composite executes its children.
type Strategy string

const (
	// StrategySequential executes children in order and stops at the first
	// failure, keeping the effects of the children that already ran.
	StrategySequential Strategy = "sequential"
	// StrategyParallel executes children concurrently. Only valid when the
	// children's targets don't overlap in an order-sensitive way.
	StrategyParallel Strategy = "parallel"
	// StrategyTransactional executes children in order and rolls back every
	// applied child when one fails, so the net effect is all-or-nothing.
	StrategyTransactional Strategy = "transactional"
)

// Composite is an operation built from ordered child operations plus an
// execution strategy. A committed composite undoes/redoes as a single
// history entry.
type Composite struct {
	Base
	children []Operation
	strategy Strategy
}

// NewComposite creates a composite operation over pre-built children.
func NewComposite(description string, strategy Strategy, children []Operation) (*Composite, error) {
	switch strategy {
	case StrategySequential, StrategyParallel, StrategyTransactional:
	default:
		return nil, fmt.Errorf("unknown composite strategy %q: %w", strategy, model.ErrNotValid)
	}
	if len(children) == 0 {
		return nil, fmt.Errorf("composite requires at least one child: %w", model.ErrNotValid)
	}

	return &Composite{
		Base:     NewBase("composite."+string(strategy), description),
		children: children,
		strategy: strategy,
	}, nil
}

// Children returns the ordered child operations.
func (c *Composite) Children() []Operation { return c.children }

// Strategy returns the execution strategy.
func (c *Composite) Strategy() Strategy { return c.strategy }

// Validate delegates to every child; any child failing validation fails the
// whole composite before anything executes.
func (c *Composite) Validate(ctx context.Context) error {
	for i, child := range c.children {
		if err := child.Validate(ctx); err != nil {
			return fmt.Errorf("child %d (%s) validation failed: %w", i, child.Type(), err)
		}
	}
	return nil
}

// Execute runs the children according to the strategy.
func (c *Composite) Execute(ctx context.Context) (*Result, error) {
	switch c.strategy {
	case StrategyParallel:
		return c.executeParallel(ctx)
	case StrategyTransactional:
		return c.executeTransactional(ctx)
	default:
		return c.executeSequential(ctx)
	}
}

// Undo reverses a committed composite: children in reverse order, or all
// concurrently for the parallel strategy (best effort, first error wins).
func (c *Composite) Undo(ctx context.Context) error {
	if c.strategy == StrategyParallel {
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			firstErr error
		)
		for _, child := range c.children {
			wg.Add(1)
			go func(child Operation) {
				defer wg.Done()
				if err := child.Undo(ctx); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = fmt.Errorf("could not undo child %s: %w", child.Type(), err)
					}
					mu.Unlock()
				}
			}(child)
		}
		wg.Wait()
		return firstErr
	}

	for i := len(c.children) - 1; i >= 0; i-- {
		if err := c.children[i].Undo(ctx); err != nil {
			return fmt.Errorf("could not undo child %d (%s): %w", i, c.children[i].Type(), err)
		}
	}
	return nil
}

func (c *Composite) executeSequential(ctx context.Context) (*Result, error) {
	result := NewResult()
	for i, child := range c.children {
		res, err := child.Execute(ctx)
		if err != nil {
			// Prior children's effects stay applied, the partial result
			// reports only their affected ids.
			return result, fmt.Errorf("child %d (%s) failed: %w", i, child.Type(), err)
		}
		result.Append(res)
	}
	return result, nil
}

func (c *Composite) executeTransactional(ctx context.Context) (*Result, error) {
	result := NewResult()
	for i, child := range c.children {
		res, err := child.Execute(ctx)
		if err != nil {
			execErr := fmt.Errorf("child %d (%s) failed: %w", i, child.Type(), err)
			// Roll back every already applied child, in reverse order.
			for j := i - 1; j >= 0; j-- {
				if undoErr := c.children[j].Undo(ctx); undoErr != nil {
					return nil, fmt.Errorf("rollback of child %d (%s) failed after %v: %w", j, c.children[j].Type(), execErr, undoErr)
				}
			}
			return nil, execErr
		}
		result.Append(res)
	}
	return result, nil
}

func (c *Composite) executeParallel(ctx context.Context) (*Result, error) {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	results := make([]*Result, len(c.children))

	for i, child := range c.children {
		wg.Add(1)
		go func(i int, child Operation) {
			defer wg.Done()
			res, err := child.Execute(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("child %d (%s) failed: %w", i, child.Type(), err)
				}
				return
			}
			results[i] = res
		}(i, child)
	}
	wg.Wait()

	result := NewResult()
	for _, res := range results {
		if res != nil {
			result.Append(res)
		}
	}
	if firstErr != nil {
		return result, firstErr
	}
	return result, nil
}
