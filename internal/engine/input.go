package engine

import (
	"github.com/distractdiverge/shared-canvas/internal/strokes"
)

// Tool selects how pointer input is interpreted.
type Tool string

const (
	ToolDraw Tool = "draw"
	ToolText Tool = "text"
	ToolPan  Tool = "pan"
)

// InputState is the capture state machine's current phase.
type InputState string

const (
	StateIdle    InputState = "idle"
	StateDrawing InputState = "drawing"
	StatePanning InputState = "panning"
)

// Zoom bounds differ by entry point: the wheel allows a wider range than the
// toolbar buttons. Both are clamped at the control that changes scale.
const (
	wheelZoomMin = 0.1
	wheelZoomMax = 5.0

	toolbarZoomMin  = 0.5
	toolbarZoomMax  = 3.0
	toolbarZoomStep = 0.1
)

// Viewport is the pan/zoom transform between screen and canvas space.
type Viewport struct {
	OffsetX float64
	OffsetY float64
	Scale   float64
}

// CanvasPoint maps a screen coordinate into canvas space.
func (v Viewport) CanvasPoint(clientX, clientY float64) strokes.Point {
	return strokes.Point{
		X: (clientX - v.OffsetX) / v.Scale,
		Y: (clientY - v.OffsetY) / v.Scale,
	}
}

// zoomTo rescales while keeping the canvas point under the given screen
// coordinate fixed on screen.
func (v *Viewport) zoomTo(clientX, clientY, newScale float64) {
	anchor := v.CanvasPoint(clientX, clientY)
	v.Scale = newScale
	v.OffsetX = clientX - anchor.X*newScale
	v.OffsetY = clientY - anchor.Y*newScale
}

// InputHandlers receive the outputs of the capture state machines.
type InputHandlers struct {
	// OnProgress fires on every pointer move while drawing.
	OnProgress func(points []strokes.Point)
	// OnStrokeComplete fires when a non-empty drawn stroke finishes.
	OnStrokeComplete func(points []strokes.Point)
	// OnTextAdd fires when the text prompt yields a non-empty string.
	OnTextAdd func(text string, position strokes.Point)
	// Prompt acquires text synchronously; ok=false means cancelled.
	Prompt func() (text string, ok bool)
}

// InputCapture converts raw pointer events plus the viewport transform into
// canvas-space strokes, with distinct state machines for the draw, text, and
// pan tools. Exactly one state is active at any instant.
type InputCapture struct {
	tool     Tool
	viewport Viewport
	handlers InputHandlers

	drawing bool
	panning bool
	current []strokes.Point
	lastX   float64
	lastY   float64
}

// NewInputCapture constructs a capture with the draw tool selected and an
// identity viewport.
func NewInputCapture(handlers InputHandlers) *InputCapture {
	return &InputCapture{
		tool:     ToolDraw,
		viewport: Viewport{Scale: 1},
		handlers: handlers,
	}
}

// SetTool switches the active tool. An in-flight gesture is finalized first
// so a tool can never change mid-state.
func (c *InputCapture) SetTool(tool Tool) {
	if c.drawing || c.panning {
		c.PointerUp()
	}
	c.tool = tool
}

// Tool returns the active tool.
func (c *InputCapture) Tool() Tool {
	return c.tool
}

// State reports the current state machine phase.
func (c *InputCapture) State() InputState {
	switch {
	case c.drawing:
		return StateDrawing
	case c.panning:
		return StatePanning
	default:
		return StateIdle
	}
}

// Viewport returns the current pan/zoom transform.
func (c *InputCapture) Viewport() Viewport {
	return c.viewport
}

// PointerDown starts a gesture for the active tool. With the text tool it
// runs the synchronous prompt; an empty or cancelled prompt is a no-op.
func (c *InputCapture) PointerDown(clientX, clientY float64) {
	switch c.tool {
	case ToolPan:
		c.panning = true
		c.lastX, c.lastY = clientX, clientY
	case ToolDraw:
		c.drawing = true
		c.current = []strokes.Point{c.viewport.CanvasPoint(clientX, clientY)}
	case ToolText:
		if c.handlers.Prompt == nil {
			return
		}
		text, ok := c.handlers.Prompt()
		if !ok || text == "" {
			return
		}
		if c.handlers.OnTextAdd != nil {
			c.handlers.OnTextAdd(text, c.viewport.CanvasPoint(clientX, clientY))
		}
	}
}

// PointerMove extends the active gesture. Panning shifts the offset by the
// raw pointer delta; drawing appends a canvas-space point and reports
// progress.
func (c *InputCapture) PointerMove(clientX, clientY float64) {
	if c.panning {
		c.viewport.OffsetX += clientX - c.lastX
		c.viewport.OffsetY += clientY - c.lastY
		c.lastX, c.lastY = clientX, clientY
		return
	}
	if !c.drawing || c.tool != ToolDraw {
		return
	}
	c.current = append(c.current, c.viewport.CanvasPoint(clientX, clientY))
	if c.handlers.OnProgress != nil {
		c.handlers.OnProgress(c.snapshotCurrent())
	}
}

// PointerUp finalizes the active gesture. An empty stroke is discarded
// silently.
func (c *InputCapture) PointerUp() {
	if c.panning {
		c.panning = false
		return
	}
	if !c.drawing {
		return
	}
	c.drawing = false
	if len(c.current) > 0 && c.handlers.OnStrokeComplete != nil {
		c.handlers.OnStrokeComplete(c.snapshotCurrent())
	}
	c.current = nil
}

// PointerLeave finalizes exactly like PointerUp.
func (c *InputCapture) PointerLeave() {
	c.PointerUp()
}

// Wheel rescales by the given factor around the pointer, clamped to the
// wheel bounds.
func (c *InputCapture) Wheel(clientX, clientY, factor float64) {
	if factor <= 0 {
		return
	}
	c.viewport.zoomTo(clientX, clientY, clampScale(c.viewport.Scale*factor, wheelZoomMin, wheelZoomMax))
}

// ZoomIn steps the scale up around the given anchor, clamped to the toolbar
// bounds.
func (c *InputCapture) ZoomIn(anchorX, anchorY float64) {
	c.viewport.zoomTo(anchorX, anchorY, clampScale(c.viewport.Scale+toolbarZoomStep, toolbarZoomMin, toolbarZoomMax))
}

// ZoomOut steps the scale down around the given anchor, clamped to the
// toolbar bounds.
func (c *InputCapture) ZoomOut(anchorX, anchorY float64) {
	c.viewport.zoomTo(anchorX, anchorY, clampScale(c.viewport.Scale-toolbarZoomStep, toolbarZoomMin, toolbarZoomMax))
}

// ResetView restores the identity transform.
func (c *InputCapture) ResetView() {
	c.viewport = Viewport{Scale: 1}
}

func (c *InputCapture) snapshotCurrent() []strokes.Point {
	points := make([]strokes.Point, len(c.current))
	copy(points, c.current)
	return points
}

func clampScale(scale, min, max float64) float64 {
	if scale < min {
		return min
	}
	if scale > max {
		return max
	}
	return scale
}
