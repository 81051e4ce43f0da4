package adapter

import (
	"sort"

	"github.com/justyntemme/vst3host/pkg/vst3"
)

type point struct {
	offset int32
	value  vst3.ParamValue
}

// ParamValueQueue holds the points of one parameter for one block, sorted
// by sample offset.
type ParamValueQueue struct {
	vst3.RefCount
	id     vst3.ParamID
	points []point
}

var _ vst3.IParamValueQueue = (*ParamValueQueue)(nil)

// NewParamValueQueue creates an empty queue for id.
func NewParamValueQueue(id vst3.ParamID) *ParamValueQueue {
	return &ParamValueQueue{id: id, points: make([]point, 0, 16)}
}

// GetParameterID implements vst3.IParamValueQueue
func (q *ParamValueQueue) GetParameterID() vst3.ParamID {
	return q.id
}

// GetPointCount implements vst3.IParamValueQueue
func (q *ParamValueQueue) GetPointCount() int32 {
	return int32(len(q.points))
}

// GetPoint implements vst3.IParamValueQueue
func (q *ParamValueQueue) GetPoint(index int32, sampleOffset *int32, value *vst3.ParamValue) vst3.Result {
	if index < 0 || int(index) >= len(q.points) {
		return vst3.ResultInvalidArgument
	}
	p := q.points[index]
	if sampleOffset != nil {
		*sampleOffset = p.offset
	}
	if value != nil {
		*value = p.value
	}
	return vst3.ResultOK
}

// AddPoint inserts before the first point with a strictly greater offset, so
// points sharing an offset keep their insertion order.
func (q *ParamValueQueue) AddPoint(sampleOffset int32, value vst3.ParamValue, index *int32) vst3.Result {
	i := sort.Search(len(q.points), func(i int) bool {
		return q.points[i].offset > sampleOffset
	})
	q.points = append(q.points, point{})
	copy(q.points[i+1:], q.points[i:])
	q.points[i] = point{offset: sampleOffset, value: value}
	if index != nil {
		*index = int32(i)
	}
	return vst3.ResultOK
}

// Last returns the value of the final point in the block.
func (q *ParamValueQueue) Last() (vst3.ParamValue, bool) {
	if len(q.points) == 0 {
		return 0, false
	}
	return q.points[len(q.points)-1].value, true
}

// Clear removes all points.
func (q *ParamValueQueue) Clear() {
	q.points = q.points[:0]
}

func (q *ParamValueQueue) reset(id vst3.ParamID) {
	q.id = id
	q.points = q.points[:0]
}

// ParameterChanges is the host's IParameterChanges. A queue is created the
// first time an id is written in a block and reused for the rest of it.
// Queues survive Clear so steady-state blocks do not allocate.
type ParameterChanges struct {
	vst3.RefCount
	queues []*ParamValueQueue
	count  int
	byID   map[vst3.ParamID]int
}

var _ vst3.IParameterChanges = (*ParameterChanges)(nil)

// NewParameterChanges creates an empty set.
func NewParameterChanges() *ParameterChanges {
	return &ParameterChanges{byID: make(map[vst3.ParamID]int)}
}

// GetParameterCount implements vst3.IParameterChanges
func (c *ParameterChanges) GetParameterCount() int32 {
	return int32(c.count)
}

// GetParameterData implements vst3.IParameterChanges
func (c *ParameterChanges) GetParameterData(index int32) vst3.IParamValueQueue {
	if index < 0 || int(index) >= c.count {
		return nil
	}
	return c.queues[index]
}

// AddParameterData implements vst3.IParameterChanges
func (c *ParameterChanges) AddParameterData(id vst3.ParamID, index *int32) vst3.IParamValueQueue {
	q, i := c.Queue(id)
	if index != nil {
		*index = int32(i)
	}
	return q
}

// Queue is AddParameterData with concrete types.
func (c *ParameterChanges) Queue(id vst3.ParamID) (*ParamValueQueue, int) {
	if i, ok := c.byID[id]; ok {
		return c.queues[i], i
	}
	i := c.count
	if i < len(c.queues) {
		c.queues[i].reset(id)
	} else {
		c.queues = append(c.queues, NewParamValueQueue(id))
	}
	c.byID[id] = i
	c.count++
	return c.queues[i], i
}

// Clear empties the set for the next block.
func (c *ParameterChanges) Clear() {
	for i := 0; i < c.count; i++ {
		c.queues[i].Clear()
	}
	c.count = 0
	clear(c.byID)
}
