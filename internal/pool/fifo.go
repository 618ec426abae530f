package pool

import "github.com/ehrlich-b/go-tgtbs/internal/interfaces"

// fifo is an ordered command container. It is not safe for concurrent use;
// each pool queue guards its fifo with its own mutex.
type fifo struct {
	cmds []*interfaces.Command
}

func (q *fifo) push(cmd *interfaces.Command) {
	q.cmds = append(q.cmds, cmd)
}

// pushAll appends cmds preserving their order.
func (q *fifo) pushAll(cmds []*interfaces.Command) {
	q.cmds = append(q.cmds, cmds...)
}

// pop removes and returns the head, or nil when empty.
func (q *fifo) pop() *interfaces.Command {
	if len(q.cmds) == 0 {
		return nil
	}
	cmd := q.cmds[0]
	q.cmds[0] = nil
	q.cmds = q.cmds[1:]
	if len(q.cmds) == 0 {
		q.cmds = nil
	}
	return cmd
}

// take empties the queue and returns its contents in order.
func (q *fifo) take() []*interfaces.Command {
	cmds := q.cmds
	q.cmds = nil
	return cmds
}

func (q *fifo) len() int {
	return len(q.cmds)
}
